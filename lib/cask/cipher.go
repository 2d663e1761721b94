// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the data encryption key and the
// nonce seed. Both are HKDF-SHA256 outputs.
const KeySize = 32

// Cipher identifies the AEAD recorded in container metadata. Every
// block in a container is sealed with the same cipher.
type Cipher string

const (
	// CipherXChaCha20Poly1305 is XChaCha20-Poly1305 with a 24-byte
	// nonce. The extended nonce leaves derived nonces far below any
	// collision concern.
	CipherXChaCha20Poly1305 Cipher = "xchacha20poly1305"

	// CipherAES256GCM is AES-256-GCM with a 12-byte nonce. Faster on
	// hardware with AES instructions.
	CipherAES256GCM Cipher = "aes256gcm"
)

// ParseCipher validates a cipher identifier.
func ParseCipher(name string) (Cipher, error) {
	switch Cipher(name) {
	case CipherXChaCha20Poly1305, CipherAES256GCM:
		return Cipher(name), nil
	default:
		return "", fmt.Errorf("unknown cipher %q", name)
	}
}

// newAEAD constructs the AEAD for a cipher identifier. The key must
// be KeySize bytes. The returned AEAD is stateless and safe for
// concurrent Seal/Open calls across the worker pool.
func newAEAD(cipherID Cipher, key []byte) (stdcipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrConfiguration, len(key), KeySize)
	}
	switch cipherID {
	case CipherXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating AES-256 cipher: %w", err)
		}
		aead, err := stdcipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM mode: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: unknown cipher %q", ErrConfiguration, cipherID)
	}
}

// blockNonce derives the nonce for a block: the first nonce-size
// bytes of the BLAKE3 hash, keyed by the nonce seed, of the block's
// 8-byte big-endian index. Deterministic, so a reader reconstructs
// every nonce from the seed alone, and distinct per block under a
// fixed seed.
func blockNonce(nonceSeed []byte, size int, index uint64) []byte {
	hasher, err := blake3.NewKeyed(nonceSeed)
	if err != nil {
		// NewKeyed fails only for a key that is not 32 bytes; the seed
		// is always an HKDF output of KeySize bytes.
		panic("cask: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], index)
	hasher.Write(indexBytes[:])

	nonce := make([]byte, size)
	copy(nonce, hasher.Sum(nil))
	return nonce
}

// blockAAD builds the additional authenticated data for a block: the
// ten-byte header prefix followed by the 8-byte big-endian block
// index. Binding the prefix pins the format revision; binding the
// index stops ciphertext blocks from being swapped or replayed at a
// different position.
func blockAAD(index uint64) []byte {
	aad := make([]byte, headerPrefixSize+8)
	copy(aad, headerPrefix())
	binary.BigEndian.PutUint64(aad[headerPrefixSize:], index)
	return aad
}

// sealBlock encrypts one block frame.
func sealBlock(aead stdcipher.AEAD, nonceSeed []byte, index uint64, frame []byte) []byte {
	nonce := blockNonce(nonceSeed, aead.NonceSize(), index)
	return aead.Seal(nil, nonce, frame, blockAAD(index))
}

// openBlock decrypts one block's ciphertext back to its frame. Any
// authentication failure is an integrity error naming the block.
func openBlock(aead stdcipher.AEAD, nonceSeed []byte, index uint64, ciphertext []byte) ([]byte, error) {
	nonce := blockNonce(nonceSeed, aead.NonceSize(), index)
	frame, err := aead.Open(nil, nonce, ciphertext, blockAAD(index))
	if err != nil {
		return nil, fmt.Errorf("%w: block %d failed authentication", ErrIntegrity, index)
	}
	return frame, nil
}
