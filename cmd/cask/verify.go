// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/cask"
)

// --- verify ---

func verifyCommand() *cli.Command {
	var flags openFlags
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "verify",
		Summary: "Check a container end to end",
		Usage:   "cask verify <container> [flags]",
		Description: `Verify a container without writing any plaintext.

Runs the full gate sequence (structure, signature when --verify-key
is given, key recovery, derivation tag) and then authenticates every
block. Exits 0 when everything checks out and 1 when any check
fails, so the result is scriptable.`,
		Examples: []cli.Example{
			{
				Description: "Verify a symmetric container",
				Command:     "cask verify backup.cask",
			},
			{
				Description: "Verify a wrapped, signed container",
				Command:     "cask verify --identity-file ~/.cask/cask-identity --verify-key producer.pub backup.cask",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("verify takes a container path (got %d arguments)", len(args))
			}
			return runVerify(flagSet, flags, args[0])
		},
	}
}

func runVerify(flagSet *pflag.FlagSet, flags openFlags, containerPath string) error {
	options, cleanup, err := flags.resolve(flagSet)
	if err != nil {
		return err
	}
	defer cleanup()

	reader, err := cask.Open(containerPath, options)
	if err != nil {
		// Missing keys or bad flags are usage errors; everything
		// else is a finding about the container.
		if errors.Is(err, cask.ErrConfiguration) {
			return err
		}
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		return &cli.ExitError{Code: 1}
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blocks, err := reader.VerifyBlocks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		return &cli.ExitError{Code: 1}
	}

	fmt.Printf("ok: %d blocks verified, %s payload\n", blocks, formatSize(int64(reader.Length())))
	return nil
}
