// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the cask CLI.
//
// Configuration is loaded from a single file specified by either the
// CASK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The file holds default container parameters for pack (block size,
// codec, cipher, derivation mode) and default key file locations.
// Explicit command-line flags take precedence over file values, which
// take precedence over built-in defaults.
//
// Variable expansion is performed on key path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Pack and Keys sections
//   - [Default] -- returns a Config with built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other cask packages.
package config
