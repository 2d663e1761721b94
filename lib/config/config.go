// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the cask CLI.
type Config struct {
	// Pack holds default container parameters for pack operations.
	// Explicit command-line flags take precedence over these values.
	Pack PackConfig `yaml:"pack"`

	// Keys configures default key file locations.
	Keys KeysConfig `yaml:"keys"`
}

// PackConfig holds default container parameters.
type PackConfig struct {
	// BlockSize is the plaintext bytes per block.
	// Default: 1048576 (1 MiB)
	BlockSize uint32 `yaml:"block_size"`

	// Compression names the block codec: none, lz4, or zstd.
	// Default: lz4
	Compression string `yaml:"compression"`

	// Cipher names the AEAD: xchacha20poly1305 or aes256gcm.
	// Default: xchacha20poly1305
	Cipher string `yaml:"cipher"`

	// Mode names the key derivation mode: two_pass or
	// single_pass_firstN.
	// Default: two_pass
	Mode string `yaml:"mode"`

	// HeadBytes is the derivation head limit for single_pass_firstN.
	// Default: 0 (unset; required when Mode is single_pass_firstN)
	HeadBytes uint64 `yaml:"head_bytes"`

	// Workers is the block pipeline concurrency.
	// Default: 0 (one worker per CPU)
	Workers int `yaml:"workers"`
}

// KeysConfig configures default key file locations. All fields are
// optional; the corresponding flags override them per invocation.
type KeysConfig struct {
	// IdentityFile is the age identity used to unwrap key envelopes.
	IdentityFile string `yaml:"identity_file"`

	// RecipientFile is the age recipient that pack wraps keys for.
	RecipientFile string `yaml:"recipient_file"`

	// SigningKeyFile is the Ed25519 private key pack signs with.
	SigningKeyFile string `yaml:"signing_key_file"`

	// VerifyKeyFile is the Ed25519 public key readers verify against.
	VerifyKeyFile string `yaml:"verify_key_file"`
}

// Default returns the default configuration. These defaults are the
// complete built-in behavior; a config file is optional and overrides
// only the fields it names.
func Default() *Config {
	return &Config{
		Pack: PackConfig{
			BlockSize:   1 << 20,
			Compression: "lz4",
			Cipher:      "xchacha20poly1305",
			Mode:        "two_pass",
			HeadBytes:   0,
			Workers:     0,
		},
	}
}

// Load loads configuration from the CASK_CONFIG environment variable.
//
// There are no fallbacks - if CASK_CONFIG is not set, this fails.
// Callers that treat configuration as optional check the variable
// themselves and use Default when it is absent.
func Load() (*Config, error) {
	configPath := os.Getenv("CASK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CASK_CONFIG environment variable not set; " +
			"set it to the path of your cask.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Expand ${HOME} and similar variables in key paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in key paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Keys.IdentityFile = expandVars(c.Keys.IdentityFile, vars)
	c.Keys.RecipientFile = expandVars(c.Keys.RecipientFile, vars)
	c.Keys.SigningKeyFile = expandVars(c.Keys.SigningKeyFile, vars)
	c.Keys.VerifyKeyFile = expandVars(c.Keys.VerifyKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks each field for validity. Cross-field rules (a head
// limit requires the single-pass mode, and vice versa) are enforced at
// pack time, where flags have already been merged in; validating them
// here would reject configs whose gaps the flags fill.
func (c *Config) Validate() error {
	var errs []error

	if c.Pack.BlockSize == 0 {
		errs = append(errs, fmt.Errorf("pack.block_size must be positive"))
	}

	compressionValues := []string{"none", "lz4", "zstd"}
	if !contains(compressionValues, c.Pack.Compression) {
		errs = append(errs, fmt.Errorf("pack.compression must be one of: %v", compressionValues))
	}

	cipherValues := []string{"xchacha20poly1305", "aes256gcm"}
	if !contains(cipherValues, c.Pack.Cipher) {
		errs = append(errs, fmt.Errorf("pack.cipher must be one of: %v", cipherValues))
	}

	modeValues := []string{"two_pass", "single_pass_firstN"}
	if !contains(modeValues, c.Pack.Mode) {
		errs = append(errs, fmt.Errorf("pack.mode must be one of: %v", modeValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
