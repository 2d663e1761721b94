// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// The cask command packs byte streams into sealed block-structured
// containers and reads them back whole, in ranges, or as a mounted
// filesystem.
package main

import (
	"fmt"
	"os"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like verify) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "cask",
		Description: `Cask: content-derived sealed containers.

Pack byte streams into block-structured, compressed, authenticated
container files whose encryption key is derived from the content
itself, and read them back in full, in ranges, or as a read-only
mounted filesystem.`,
		Subcommands: []*cli.Command{
			packCommand(),
			unpackCommand(),
			seekCommand(),
			infoCommand(),
			verifyCommand(),
			keygenCommand(),
			mountCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("cask %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Pack a tarball with the defaults",
				Command:     "cask pack backup.tar backup.cask",
			},
			{
				Description: "Inspect a container without any keys",
				Command:     "cask info backup.cask",
			},
			{
				Description: "Read a slice of the payload without full decryption",
				Command:     "cask seek --offset 1048576 --length 4096 backup.cask",
			},
			{
				Description: "Generate a recipient keypair, then pack for it",
				Command:     "cask keygen recipient --out ~/.cask",
			},
		},
	}
}
