// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import "errors"

// Error categories. Every failure surfaced by this package wraps
// exactly one of these sentinels, so callers can classify with
// errors.Is without parsing messages.
var (
	// ErrFormat covers structural damage visible without key material:
	// bad magic, unsupported version, non-zero reserved bytes, metadata
	// that does not decode or does not validate, truncated files, and
	// unknown identifiers or frame tags found in the container.
	ErrFormat = errors.New("cask: malformed container")

	// ErrIntegrity covers content that is structurally well formed but
	// fails a cryptographic or length check: mode tag mismatch, AEAD
	// authentication failure on a block, or a decoded frame whose
	// plaintext length disagrees with its descriptor.
	ErrIntegrity = errors.New("cask: integrity check failed")

	// ErrSignature is returned when a verification key was supplied and
	// the container carries no signature, or the signature does not
	// verify.
	ErrSignature = errors.New("cask: signature verification failed")

	// ErrKeyUnwrap is returned when the key envelope cannot be opened
	// with the supplied identity. The message deliberately does not
	// distinguish wrong identity from corrupted envelope.
	ErrKeyUnwrap = errors.New("cask: key unwrap failed")

	// ErrConfiguration covers invalid caller-supplied options, rejected
	// before any I/O happens.
	ErrConfiguration = errors.New("cask: invalid configuration")
)
