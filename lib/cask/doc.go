// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package cask implements the cask container: a block-structured,
// compressed, authenticated file format whose encryption key is
// derived from the content itself. It is the pure engine that the
// CLI and the FUSE mount build on.
//
// The package is organized in layers, each usable independently:
//
//   - Format: a fixed 14-byte header (magic, version, reserved,
//     metadata length) followed by canonical CBOR metadata and the
//     ciphertext stream. The first 10 header bytes are bound into
//     every block's authenticated data.
//
//   - Frames: each plaintext block is compressed into a one-byte
//     tagged frame (raw or compressed) with per-block fallback to
//     raw when compression does not help. Codecs: none, lz4, zstd.
//
//   - Derivation: the key material is a keyed BLAKE3 digest of the
//     frame stream (all of it in two_pass mode, the first head_bytes
//     in single_pass_firstN), expanded with HKDF-SHA256 into the
//     content key and a nonce seed. The mode tag, a DEK-keyed MAC
//     over the derivation parameters, commits the container to the
//     exact derivation that produced it.
//
//   - Blocks: independent AEAD sealing (XChaCha20-Poly1305 or
//     AES-256-GCM) with deterministic per-index nonces, so identical
//     input packs to identical bytes and any block can be opened
//     without its neighbors.
//
//   - Pipeline: a bounded worker pool that compresses, seals, and
//     opens blocks in parallel while producing and consuming them
//     strictly in index order.
//
//   - Writer and Reader: Pack streams a source into a container
//     (temp-then-rename, never a partial destination); Open gates a
//     container through structure, signature, key recovery, and the
//     derivation tag before Unpack, ReadRange, or VerifyBlocks
//     touch a block. Inspect summarizes a container without keys.
//
// Key placement is symmetric (the derived key rides in the metadata,
// making the format an integrity and obfuscation layer) or wrapped
// (the key is sealed to an age X25519 recipient, making it real
// encryption). An optional Ed25519 signature covers the canonical
// metadata bytes.
//
// Metadata uses CBOR (RFC 8949) with Core Deterministic Encoding via
// lib/codec. Struct types use json struct tags; fxamacker/cbor falls
// back to json tags, so the same types work with both encoders.
package cask
