// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/cask-format/cask/lib/codec"
	"github.com/cask-format/cask/lib/secret"
)

// DerivationMode selects how much of the content feeds the key
// derivation.
type DerivationMode string

const (
	// ModeTwoPass derives the key from the entire derivation stream.
	// Encryption cannot start until the whole stream exists, which is
	// the point: the key commits to every byte.
	ModeTwoPass DerivationMode = "two_pass"

	// ModeSinglePassFirstN derives the key from the first head-bytes
	// of the derivation stream. The key is fixed early, so packing can
	// proceed without a second pass over the content.
	ModeSinglePassFirstN DerivationMode = "single_pass_firstN"
)

// ParseMode validates a derivation mode identifier.
func ParseMode(name string) (DerivationMode, error) {
	switch DerivationMode(name) {
	case ModeTwoPass, ModeSinglePassFirstN:
		return DerivationMode(name), nil
	default:
		return "", fmt.Errorf("unknown derivation mode %q", name)
	}
}

// contentDomainKey is the BLAKE3 key for hashing the derivation
// stream. A fixed protocol constant: the ASCII domain name,
// zero-padded to 32 bytes, readable in hex dumps without weakening
// the keyed hash.
var contentDomainKey = [32]byte{
	'c', 'a', 's', 'k', '.', 'd', 'e', 'r', 'i', 'v', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', '.', 'v', '1',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HKDF info strings, providing domain separation between the data
// encryption key and the nonce seed. Protocol constants.
var (
	hkdfInfoDEK       = []byte("cask.dek.v1")
	hkdfInfoNonceSeed = []byte("cask.nonce.v1")
)

// derivationHasher accumulates the derivation stream (the block
// frames in index order) into the input key material. In
// single-pass-firstN mode only the first headBytes bytes are hashed;
// later input is accepted and discarded, which also covers streams
// shorter than the head.
type derivationHasher struct {
	hasher    *blake3.Hasher
	remaining int64 // bytes still hashed; negative means unlimited
}

func newDerivationHasher(mode DerivationMode, headBytes uint64) *derivationHasher {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("cask: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	remaining := int64(-1)
	if mode == ModeSinglePassFirstN {
		remaining = int64(headBytes)
	}
	return &derivationHasher{hasher: hasher, remaining: remaining}
}

// absorb feeds frame bytes to the hash, honoring the head limit.
func (d *derivationHasher) absorb(frame []byte) {
	if d.remaining == 0 {
		return
	}
	if d.remaining > 0 && int64(len(frame)) > d.remaining {
		frame = frame[:d.remaining]
	}
	d.hasher.Write(frame)
	if d.remaining > 0 {
		d.remaining -= int64(len(frame))
	}
}

// inputKeyMaterial finalizes the hash. The caller zeroes the returned
// array after deriving keys from it.
func (d *derivationHasher) inputKeyMaterial() [32]byte {
	var ikm [32]byte
	copy(ikm[:], d.hasher.Sum(nil))
	return ikm
}

// deriveKeys expands input key material into the data encryption key
// and the nonce seed. The nonce seed is derived from the DEK rather
// than the ikm: an envelope-mode reader holds only the unwrapped DEK
// and must still reconstruct every nonce.
//
// Both returned buffers must be closed by the caller.
func deriveKeys(ikm []byte) (dek, nonceSeed *secret.Buffer, err error) {
	dek, err = deriveKey(ikm, hkdfInfoDEK)
	if err != nil {
		return nil, nil, err
	}
	nonceSeed, err = deriveKey(dek.Bytes(), hkdfInfoNonceSeed)
	if err != nil {
		dek.Close()
		return nil, nil, err
	}
	return dek, nonceSeed, nil
}

// deriveKey is the shared HKDF-SHA256 step. The salt is nil: the
// input key material is already a uniformly random BLAKE3 output, so
// the extract phase with a zero key is appropriate per RFC 5869.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// derivationParams are the knobs the mode tag commits to. The tag is
// a DEK-keyed MAC over this record's canonical CBOR encoding, so a
// reader detects both a wrong key and tampered parameters before any
// block is decrypted.
type derivationParams struct {
	Mode        DerivationMode `json:"mode"`
	BlockSize   uint32         `json:"block_size"`
	HeadBytes   uint64         `json:"head_bytes"`
	Compression Codec          `json:"compression"`
	Cipher      Cipher         `json:"cipher"`
}

// computeModeTag returns the lowercase hex tag for the given key and
// parameters.
func computeModeTag(dek *secret.Buffer, params derivationParams) (string, error) {
	payload, err := codec.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding derivation parameters: %w", err)
	}
	hasher, err := blake3.NewKeyed(dek.Bytes())
	if err != nil {
		return "", fmt.Errorf("keying mode tag hash: %w", err)
	}
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
