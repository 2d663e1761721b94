// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/cask-format/cask/lib/codec"
	"github.com/cask-format/cask/lib/keyring"
)

// modeTagLength is the length of the hex-encoded mode tag.
const modeTagLength = 64

// BlockDescriptor locates one encrypted block in the ciphertext
// stream. Offset is relative to the start of the stream (the byte
// after the metadata), which keeps the table independent of the
// metadata's own encoded length.
type BlockDescriptor struct {
	Index            uint64 `json:"index"`
	Offset           uint64 `json:"offset"`
	CiphertextLength uint64 `json:"ciphertext_length"`
	PlaintextLength  uint64 `json:"plaintext_length"`
}

// Envelope wraps the data encryption key to an age recipient. The
// recipient field is the short fingerprint of the recipient string,
// enough to tell which identity to fetch without naming it outright.
type Envelope struct {
	WrappedKey string `json:"wrapped_key"`
	Recipient  string `json:"recipient"`
}

// Signature is an Ed25519 signature over the canonical metadata
// encoding with this field absent.
type Signature struct {
	Signature []byte `json:"signature"`
	Signer    string `json:"signer"`
}

// Metadata is the container's self-description: derivation
// parameters, the block table, key material (clear or wrapped), the
// mode tag, and an optional signature. It is stored as canonical
// CBOR immediately after the header.
type Metadata struct {
	Compression Codec             `json:"compression"`
	Cipher      Cipher            `json:"cipher"`
	Mode        DerivationMode    `json:"mode"`
	BlockSize   uint32            `json:"block_size"`
	HeadBytes   uint64            `json:"head_bytes"`
	Length      uint64            `json:"length"`
	Blocks      []BlockDescriptor `json:"blocks"`
	ModeTag     string            `json:"mode_tag"`
	Key         []byte            `json:"key,omitempty"`
	Envelope    *Envelope         `json:"envelope,omitempty"`
	Signature   *Signature        `json:"signature,omitempty"`
}

// decodeMetadata decodes and structurally validates a metadata
// section. Strict decoding (duplicate keys and unknown fields
// rejected) means any bytes that decode are bytes this package could
// have produced, which keeps the signature non-malleable.
func decodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata: %v", ErrFormat, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// encode serializes the metadata as canonical CBOR.
func (m *Metadata) encode() ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

// validate checks every structural invariant the format promises.
// All violations are format errors: they describe the file, not the
// caller's options.
func (m *Metadata) validate() error {
	if _, err := ParseCodec(string(m.Compression)); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if _, err := ParseCipher(string(m.Cipher)); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if _, err := ParseMode(string(m.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if m.BlockSize == 0 {
		return fmt.Errorf("%w: block size is zero", ErrFormat)
	}

	switch m.Mode {
	case ModeTwoPass:
		if m.HeadBytes != 0 {
			return fmt.Errorf("%w: mode %q with non-zero head_bytes %d", ErrFormat, m.Mode, m.HeadBytes)
		}
	case ModeSinglePassFirstN:
		if m.HeadBytes == 0 {
			return fmt.Errorf("%w: mode %q with zero head_bytes", ErrFormat, m.Mode)
		}
	}

	if len(m.ModeTag) != modeTagLength {
		return fmt.Errorf("%w: mode tag is %d characters, want %d", ErrFormat, len(m.ModeTag), modeTagLength)
	}
	if _, err := hex.DecodeString(m.ModeTag); err != nil {
		return fmt.Errorf("%w: mode tag is not hex: %v", ErrFormat, err)
	}

	hasKey := len(m.Key) > 0
	hasEnvelope := m.Envelope != nil
	if hasKey == hasEnvelope {
		return fmt.Errorf("%w: exactly one of key and envelope must be present", ErrFormat)
	}
	if hasKey && len(m.Key) != KeySize {
		return fmt.Errorf("%w: clear key is %d bytes, want %d", ErrFormat, len(m.Key), KeySize)
	}
	if hasEnvelope && (m.Envelope.WrappedKey == "" || m.Envelope.Recipient == "") {
		return fmt.Errorf("%w: envelope is missing wrapped key or recipient", ErrFormat)
	}

	if m.Signature != nil {
		if len(m.Signature.Signature) != ed25519.SignatureSize {
			return fmt.Errorf("%w: signature is %d bytes, want %d",
				ErrFormat, len(m.Signature.Signature), ed25519.SignatureSize)
		}
		if m.Signature.Signer == "" {
			return fmt.Errorf("%w: signature is missing the signer fingerprint", ErrFormat)
		}
	}

	return m.validateBlockTable()
}

// validateBlockTable checks that the block table tiles the payload:
// indexes sequential from zero, ciphertext offsets contiguous from
// zero, every block a full block-size of plaintext except a shorter
// final block, lengths summing to the declared payload length.
func (m *Metadata) validateBlockTable() error {
	if m.Length == 0 {
		if len(m.Blocks) != 0 {
			return fmt.Errorf("%w: %d blocks for an empty payload", ErrFormat, len(m.Blocks))
		}
		return nil
	}
	if len(m.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks for a %d-byte payload", ErrFormat, m.Length)
	}

	var nextOffset, totalPlaintext uint64
	for i, block := range m.Blocks {
		if block.Index != uint64(i) {
			return fmt.Errorf("%w: block %d has index %d", ErrFormat, i, block.Index)
		}
		if block.Offset != nextOffset {
			return fmt.Errorf("%w: block %d starts at offset %d, want %d", ErrFormat, i, block.Offset, nextOffset)
		}
		if block.CiphertextLength == 0 {
			return fmt.Errorf("%w: block %d has zero ciphertext length", ErrFormat, i)
		}

		last := i == len(m.Blocks)-1
		if !last && block.PlaintextLength != uint64(m.BlockSize) {
			return fmt.Errorf("%w: interior block %d covers %d plaintext bytes, want %d",
				ErrFormat, i, block.PlaintextLength, m.BlockSize)
		}
		if last && (block.PlaintextLength == 0 || block.PlaintextLength > uint64(m.BlockSize)) {
			return fmt.Errorf("%w: final block covers %d plaintext bytes, want 1..%d",
				ErrFormat, block.PlaintextLength, m.BlockSize)
		}

		nextOffset += block.CiphertextLength
		if nextOffset < block.Offset {
			return fmt.Errorf("%w: block table offsets overflow", ErrFormat)
		}
		totalPlaintext += block.PlaintextLength
		if totalPlaintext > m.Length {
			return fmt.Errorf("%w: block table covers more than the declared %d bytes", ErrFormat, m.Length)
		}
	}
	if totalPlaintext != m.Length {
		return fmt.Errorf("%w: block table covers %d plaintext bytes, metadata declares %d",
			ErrFormat, totalPlaintext, m.Length)
	}
	return nil
}

// signingBytes returns the canonical encoding with the signature
// field absent, the exact bytes a signature covers. Canonical
// encoding guarantees a verifier re-encoding the decoded record
// reproduces the signer's bytes.
func (m *Metadata) signingBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Signature = nil
	data, err := codec.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for signing: %w", err)
	}
	return data, nil
}

// sign attaches an Ed25519 signature and the signer's fingerprint.
func (m *Metadata) sign(key ed25519.PrivateKey) error {
	payload, err := m.signingBytes()
	if err != nil {
		return err
	}
	m.Signature = &Signature{
		Signature: ed25519.Sign(key, payload),
		Signer:    keyring.SigningFingerprint(key.Public().(ed25519.PublicKey)),
	}
	return nil
}

// verifySignature checks the metadata signature against a public
// key. A container without a signature fails: the caller asked for
// verification, so an unsigned container is a refusal, not a pass.
func (m *Metadata) verifySignature(key ed25519.PublicKey) error {
	if m.Signature == nil {
		return fmt.Errorf("%w: container is not signed", ErrSignature)
	}
	payload, err := m.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, payload, m.Signature.Signature) {
		return fmt.Errorf("%w: signer %s", ErrSignature, m.Signature.Signer)
	}
	return nil
}

// derivationParams extracts the parameter record the mode tag
// commits to.
func (m *Metadata) derivationParams() derivationParams {
	return derivationParams{
		Mode:        m.Mode,
		BlockSize:   m.BlockSize,
		HeadBytes:   m.HeadBytes,
		Compression: m.Compression,
		Cipher:      m.Cipher,
	}
}

// streamSize returns the total length of the ciphertext stream.
func (m *Metadata) streamSize() uint64 {
	if len(m.Blocks) == 0 {
		return 0
	}
	last := m.Blocks[len(m.Blocks)-1]
	return last.Offset + last.CiphertextLength
}
