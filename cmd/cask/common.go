// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/cask-format/cask/lib/cask"
	"github.com/cask-format/cask/lib/config"
	"github.com/cask-format/cask/lib/keyring"
)

// loadConfig returns the effective configuration: the file named by
// --config when given, else the file named by $CASK_CONFIG when that
// is set, else the built-in defaults. Loaded files are validated;
// the defaults are valid by construction.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("CASK_CONFIG") != "":
		cfg, err = config.Load()
	default:
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openFlags are the flags shared by every command that opens a
// container: where the keys come from and how many block workers to
// run. An explicit flag wins over the configuration file, which wins
// over the defaults.
type openFlags struct {
	configPath   string
	identityFile string
	verifyKey    string
	workers      int
}

func (f *openFlags) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "configuration file (default $CASK_CONFIG)")
	flagSet.StringVar(&f.identityFile, "identity-file", "", `age identity file for wrapped containers ("-" reads stdin)`)
	flagSet.StringVar(&f.verifyKey, "verify-key", "", "Ed25519 public key file; require and check the signature")
	flagSet.IntVar(&f.workers, "workers", 0, "concurrent block workers (0 means all CPUs)")
}

// resolve merges the parsed flags with the configuration file and
// loads the key material. The returned cleanup zeroes the identity
// buffer; callers run it after the reader is closed. cleanup is
// non-nil exactly when the error is nil.
func (f *openFlags) resolve(flagSet *pflag.FlagSet) (cask.OpenOptions, func(), error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return cask.OpenOptions{}, nil, err
	}

	identityPath := cfg.Keys.IdentityFile
	if flagSet.Changed("identity-file") {
		identityPath = f.identityFile
	}
	verifyPath := cfg.Keys.VerifyKeyFile
	if flagSet.Changed("verify-key") {
		verifyPath = f.verifyKey
	}
	workers := cfg.Pack.Workers
	if flagSet.Changed("workers") {
		workers = f.workers
	}

	options := cask.OpenOptions{Workers: workers}
	cleanup := func() {}
	if identityPath != "" {
		identity, err := keyring.LoadIdentity(identityPath)
		if err != nil {
			return cask.OpenOptions{}, nil, err
		}
		options.Identity = identity
		cleanup = func() { identity.Close() }
	}
	if verifyPath != "" {
		key, err := keyring.LoadVerifyKey(verifyPath)
		if err != nil {
			cleanup()
			return cask.OpenOptions{}, nil, err
		}
		options.VerifyKey = key
	}
	return options, cleanup, nil
}
