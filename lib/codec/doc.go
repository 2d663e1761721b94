// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides cask's standard CBOR encoding configuration.
//
// Container metadata is CBOR on the wire and JSON only in CLI --json
// output. The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes. The
// metadata signature and the mode tag are computed over this exact
// serialization, so determinism is a correctness requirement, not a
// nicety.
//
// The decoder is strict: duplicate map keys and unknown struct fields
// are errors. Lenient decoding would let a modified container decode to
// the same record as the original (extra fields dropped, duplicates
// resolved quietly), which re-encodes to the signer's bytes and defeats
// the tamper check.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// fxamacker/cbor v2 reads `json` tags when `cbor` tags are absent, so a
// single `json` tag controls field naming and omitempty for both
// formats. Types that are both stored as CBOR and printed as JSON
// (container metadata, block descriptors) carry `json` tags only.
// Never use both tags on the same field.
package codec
