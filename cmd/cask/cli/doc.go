// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the cask CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/cask/main.go
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
//
// Commands that exit non-zero as a valid outcome (such as "cask verify"
// on a corrupt container) return [ExitError] instead of printing an
// error; main maps it straight to the process exit code.
package cli
