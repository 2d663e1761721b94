// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/keyring"
	"github.com/cask-format/cask/lib/sealed"
	"github.com/cask-format/cask/lib/secret"
)

// --- keygen ---

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate recipient and signing keypairs",
		Description: `Generate the keypairs cask containers use.

A recipient keypair (age X25519) lets producers wrap the content key
so only the identity holder can open the container. A signing keypair
(Ed25519) lets producers sign container metadata so readers can pin
who packed it.

Key files are created with O_EXCL and are never overwritten; private
key files get 0600 permissions.`,
		Subcommands: []*cli.Command{
			keygenRecipientCommand(),
			keygenSigningCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Generate a recipient keypair in ~/.cask",
				Command:     "cask keygen recipient --out ~/.cask",
			},
			{
				Description: "Generate a signing keypair in ~/.cask",
				Command:     "cask keygen signing --out ~/.cask",
			},
		},
	}
}

func keygenRecipientCommand() *cli.Command {
	var outDir string

	return &cli.Command{
		Name:    "recipient",
		Summary: "Generate an age X25519 recipient keypair",
		Usage:   "cask keygen recipient --out <dir>",
		Description: `Generate an age X25519 keypair for key wrapping.

Writes the identity (private) and recipient (public) files into the
output directory. Share the recipient; keep the identity. The
recipient string is printed to stdout.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("recipient", pflag.ContinueOnError)
			flagSet.StringVar(&outDir, "out", ".", "directory for the key files")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen recipient takes no arguments, got %q", args[0])
			}
			return runKeygenRecipient(outDir)
		},
	}
}

func runKeygenRecipient(outDir string) error {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	if err := keyring.SaveRecipientKeypair(outDir, keypair); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(outDir, keyring.IdentityFile))
	fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(outDir, keyring.RecipientFile))
	fmt.Fprintf(os.Stderr, "fingerprint %s\n", keyring.RecipientFingerprint(keypair.PublicKey))
	fmt.Println(keypair.PublicKey)
	return nil
}

func keygenSigningCommand() *cli.Command {
	var outDir string

	return &cli.Command{
		Name:    "signing",
		Summary: "Generate an Ed25519 signing keypair",
		Usage:   "cask keygen signing --out <dir>",
		Description: `Generate an Ed25519 keypair for metadata signing.

Writes the private signing key and the public verification key into
the output directory. Give the verification key to readers: they pass
it to unpack, seek, or verify as --verify-key. The key fingerprint is
printed to stdout.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("signing", pflag.ContinueOnError)
			flagSet.StringVar(&outDir, "out", ".", "directory for the key files")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen signing takes no arguments, got %q", args[0])
			}
			return runKeygenSigning(outDir)
		},
	}
}

func runKeygenSigning(outDir string) error {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	public, private, err := keyring.GenerateSigningKeypair()
	if err != nil {
		return err
	}
	defer secret.Zero(private)

	if err := keyring.SaveSigningKeypair(outDir, public, private); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(outDir, keyring.SigningKeyFile))
	fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(outDir, keyring.SigningPubFile))
	fmt.Println(keyring.SigningFingerprint(public))
	return nil
}
