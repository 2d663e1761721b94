// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyring manages the key files the cask CLI works with:
// Ed25519 signing keypairs and age x25519 recipient keypairs.
//
// Private key files are written with 0600 permissions, public key
// files with 0644, and existing files are never overwritten. Age
// identities load into [secret.Buffer] values; identity files may be
// bare AGE-SECRET-KEY-1 lines or age-keygen key files with comment
// lines.
//
// Key exports:
//
//   - [GenerateSigningKeypair] / [SaveSigningKeypair] -- Ed25519 key files
//   - [LoadSigningKey] / [LoadVerifyKey] -- Ed25519 keys from explicit paths
//   - [SaveRecipientKeypair] / [LoadIdentity] / [ResolveRecipient] -- age keys
//   - [Fingerprint] and friends -- short BLAKE3 key fingerprints, the
//     form recorded in container metadata
//
// Depends on lib/sealed for age key validation and lib/secret for
// secure memory.
package keyring
