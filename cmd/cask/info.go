// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/cask"
	"github.com/cask-format/cask/lib/codec"
)

// --- info ---

func infoCommand() *cli.Command {
	var jsonOutput bool
	var cborOutput bool

	return &cli.Command{
		Name:    "info",
		Summary: "Show container parameters without any keys",
		Usage:   "cask info <container> [flags]",
		Description: `Display a container's header and metadata.

Everything shown comes from the unencrypted metadata, so no identity
or verification key is needed; the signature and derivation tag are
reported but not checked. Use verify for checking.

With --cbor, the raw metadata is printed in CBOR diagnostic notation
instead, which preserves the exact wire representation.`,
		Examples: []cli.Example{
			{
				Description: "Show a container summary",
				Command:     "cask info backup.cask",
			},
			{
				Description: "Machine-readable output",
				Command:     "cask info --json backup.cask",
			},
			{
				Description: "Inspect the metadata wire encoding",
				Command:     "cask info --cbor backup.cask",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("info", pflag.ContinueOnError)
			flagSet.BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
			flagSet.BoolVar(&cborOutput, "cbor", false, "print the metadata in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("info takes a container path (got %d arguments)", len(args))
			}
			return runInfo(args[0], jsonOutput, cborOutput)
		},
	}
}

func runInfo(containerPath string, jsonOutput, cborOutput bool) error {
	if cborOutput {
		raw, err := cask.RawMetadata(containerPath)
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(raw)
		if err != nil {
			return fmt.Errorf("diagnosing metadata: %w", err)
		}
		fmt.Println(notation)
		return nil
	}

	info, err := cask.Inspect(containerPath)
	if err != nil {
		return err
	}

	if jsonOutput {
		encoded, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Compression:\t%s\n", info.Compression)
	fmt.Fprintf(writer, "Cipher:\t%s\n", info.Cipher)
	fmt.Fprintf(writer, "Mode:\t%s\n", info.Mode)
	if info.HeadBytes > 0 {
		fmt.Fprintf(writer, "Head bytes:\t%d\n", info.HeadBytes)
	}
	fmt.Fprintf(writer, "Block size:\t%s\n", formatSize(int64(info.BlockSize)))
	fmt.Fprintf(writer, "Payload:\t%s (%d bytes)\n", formatSize(int64(info.Length)), info.Length)
	fmt.Fprintf(writer, "Blocks:\t%d\n", info.Blocks)
	fmt.Fprintf(writer, "Metadata:\t%s\n", formatSize(info.MetadataSize))
	fmt.Fprintf(writer, "Container:\t%s (%d bytes)\n", formatSize(info.ContainerSize), info.ContainerSize)
	fmt.Fprintf(writer, "Mode tag:\t%s\n", info.ModeTag)
	if info.Wrapped {
		fmt.Fprintf(writer, "Key:\twrapped for %s\n", info.Recipient)
	} else {
		fmt.Fprintf(writer, "Key:\tin metadata\n")
	}
	if info.Signed {
		fmt.Fprintf(writer, "Signature:\tsigned by %s\n", info.Signer)
	} else {
		fmt.Fprintf(writer, "Signature:\tnone\n")
	}
	writer.Flush()
	return nil
}

// formatSize returns a human-readable byte size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
