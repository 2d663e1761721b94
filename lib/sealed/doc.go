// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the container key envelope:
// encrypt a data encryption key to a recipient's X25519 public key,
// decrypt it with the matching identity.
//
// Ciphertext is base64-encoded for storage in the container's CBOR
// metadata. Callers pass plaintext []byte to [Encrypt] and receive a
// base64 string; [Decrypt] accepts a base64 string and returns
// plaintext. Private keys and decrypted plaintext are returned as
// [secret.Buffer] values backed by mmap memory outside the Go heap
// (locked against swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Decrypt] -- decrypt with a secret.Buffer key
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// Used by the pack path (wrap the data encryption key to a recipient)
// and the open path (unwrap it with the reader's identity).
//
// Depends on lib/secret for secure memory allocation.
package sealed
