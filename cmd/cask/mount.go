// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cask-format/cask/cmd/cask/cli"
	"github.com/cask-format/cask/lib/cask"
	"github.com/cask-format/cask/lib/caskfs"
)

// --- mount ---

func mountCommand() *cli.Command {
	var flags openFlags
	var fileName string
	var allowOther bool
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a container as a read-only filesystem",
		Usage:   "cask mount <container> <mountpoint> [flags]",
		Description: `Mount a container's payload as a single read-only file.

The mountpoint directory gains one file (named by --file-name) whose
reads decrypt only the blocks they touch, so programs can mmap or
seek through a large payload without a full unpack.

The command stays in the foreground and unmounts on SIGINT or
SIGTERM. An external "fusermount -u" also ends it cleanly.`,
		Examples: []cli.Example{
			{
				Description: "Mount and read with ordinary tools",
				Command:     "cask mount backup.cask /mnt/backup",
			},
			{
				Description: "Mount a wrapped container under a custom file name",
				Command:     "cask mount --identity-file ~/.cask/cask-identity --file-name backup.tar db.cask /mnt/db",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flags.bind(flagSet)
			flagSet.StringVar(&fileName, "file-name", caskfs.DefaultFileName, "name of the payload file in the mountpoint")
			flagSet.BoolVar(&allowOther, "allow-other", false, "allow other users to read the mount")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("mount takes a container and a mountpoint (got %d arguments)", len(args))
			}
			return runMount(flagSet, flags, fileName, allowOther, args[0], args[1])
		},
	}
}

func runMount(flagSet *pflag.FlagSet, flags openFlags, fileName string, allowOther bool, containerPath, mountpoint string) error {
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

	logger := cli.NewCommandLogger().With(
		"command", "mount",
		"container", containerPath,
	)

	server, err := caskfs.Mount(caskfs.Options{
		Mountpoint: mountpoint,
		Reader:     reader,
		FileName:   fileName,
		AllowOther: allowOther,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if err := server.Unmount(); err != nil {
			logger.Error("failed to unmount filesystem", "error", err)
			return fmt.Errorf("unmounting %s: %w", mountpoint, err)
		}
		<-done
	case <-done:
		// Unmounted externally (fusermount -u).
	}

	logger.Info("filesystem unmounted", "mountpoint", mountpoint)
	return nil
}
