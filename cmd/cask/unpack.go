// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/cask"
)

// --- unpack ---

func unpackCommand() *cli.Command {
	var flags openFlags
	var force bool
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "unpack",
		Summary: "Decrypt a container's payload to a file",
		Usage:   "cask unpack <container> <dest> [flags]",
		Description: `Decrypt and decompress a container's whole payload.

Every block is authenticated during decryption; a tampered container
fails rather than producing bytes. A destination of "-" streams the
payload to stdout for piping. File destinations appear atomically: a
failed unpack leaves nothing behind.

Containers with a wrapped key need --identity-file. With --verify-key
the container must carry a valid Ed25519 signature by that key, and
unsigned containers are rejected.`,
		Examples: []cli.Example{
			{
				Description: "Unpack a symmetric container",
				Command:     "cask unpack backup.cask backup.tar",
			},
			{
				Description: "Unpack a wrapped container, checking the producer's signature",
				Command:     "cask unpack --identity-file ~/.cask/cask-identity --verify-key producer.pub backup.cask backup.tar",
			},
			{
				Description: "Stream the payload into tar",
				Command:     "cask unpack backup.cask - | tar -tv",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("unpack", pflag.ContinueOnError)
			flags.bind(flagSet)
			flagSet.BoolVar(&force, "force", false, "write binary output to a terminal")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("unpack takes a container and a destination (got %d arguments)", len(args))
			}
			return runUnpack(flagSet, flags, force, args[0], args[1])
		},
	}
}

func runUnpack(flagSet *pflag.FlagSet, flags openFlags, force bool, containerPath, destPath string) error {
	if destPath == "-" && !force && term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("refusing to write binary payload to a terminal (redirect stdout or pass --force)")
	}

	options, cleanup, err := flags.resolve(flagSet)
	if err != nil {
		return err
	}
	defer cleanup()

	reader, err := cask.Open(containerPath, options)
	if err != nil {
		return err
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if destPath == "-" {
		_, err := reader.WriteTo(ctx, os.Stdout)
		return err
	}

	if err := reader.Unpack(ctx, destPath); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "unpacked %s: %s\n", destPath, formatSize(int64(reader.Length())))
	return nil
}
