// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"context"
	stdcipher "crypto/cipher"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cask-format/cask/lib/sealed"
	"github.com/cask-format/cask/lib/secret"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Identity is an age identity ("AGE-SECRET-KEY-1...") used to
	// unwrap the key envelope. Required when the container carries
	// an envelope, unused otherwise. The buffer is borrowed and NOT
	// closed.
	Identity *secret.Buffer

	// VerifyKey, when non-nil, requires the container to carry a
	// valid Ed25519 metadata signature by this key. When nil, a
	// present signature is not checked.
	VerifyKey ed25519.PublicKey

	// Workers is the block pipeline concurrency. 0 means
	// GOMAXPROCS.
	Workers int
}

// Reader is an open container session: file handle, validated
// metadata, and derived key material. All state is read-only after
// Open and block fetches use ReadAt, so a Reader is safe for
// concurrent use. Close zeroes the key material.
type Reader struct {
	file        *os.File
	meta        *Metadata
	aead        stdcipher.AEAD
	dek         *secret.Buffer
	nonceSeed   *secret.Buffer
	streamStart int64
	workers     int
}

// Open validates a container and prepares it for reading. The gates
// run in a fixed order: structural validation, then the signature
// (when a verification key is supplied), then key recovery, then the
// derivation tag. No block ciphertext is touched until all gates
// pass, so a wrong identity can never be confused with corrupt
// content.
func Open(path string, options OpenOptions) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	success := false
	defer func() {
		if !success {
			file.Close()
		}
	}()

	meta, streamStart, err := readContainer(file)
	if err != nil {
		return nil, err
	}

	if options.VerifyKey != nil {
		if len(options.VerifyKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: verification key is %d bytes, want %d",
				ErrConfiguration, len(options.VerifyKey), ed25519.PublicKeySize)
		}
		if err := meta.verifySignature(options.VerifyKey); err != nil {
			return nil, err
		}
	}

	dek, err := unlockKey(meta, options.Identity)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !success {
			dek.Close()
		}
	}()

	tag, err := computeModeTag(dek, meta.derivationParams())
	if err != nil {
		return nil, err
	}
	if tag != meta.ModeTag {
		return nil, fmt.Errorf("%w: derivation tag mismatch", ErrIntegrity)
	}

	nonceSeed, err := deriveKey(dek.Bytes(), hkdfInfoNonceSeed)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(meta.Cipher, dek.Bytes())
	if err != nil {
		nonceSeed.Close()
		return nil, err
	}

	success = true
	return &Reader{
		file:        file,
		meta:        meta,
		aead:        aead,
		dek:         dek,
		nonceSeed:   nonceSeed,
		streamStart: streamStart,
		workers:     options.Workers,
	}, nil
}

// readContainer reads the header and metadata and checks that the
// file is exactly as long as the block table requires. The metadata
// length is checked against the file size before the metadata buffer
// is allocated, so a forged header cannot demand an absurd
// allocation.
func readContainer(file *os.File) (*Metadata, int64, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat container: %w", err)
	}

	header := make([]byte, HeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, 0, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	metadataLength, err := parseHeader(header)
	if err != nil {
		return nil, 0, err
	}

	streamStart := int64(HeaderSize) + int64(metadataLength)
	if streamStart > stat.Size() {
		return nil, 0, fmt.Errorf("%w: %d-byte file cannot hold %d bytes of metadata",
			ErrFormat, stat.Size(), metadataLength)
	}
	encoded := make([]byte, metadataLength)
	if _, err := file.ReadAt(encoded, HeaderSize); err != nil {
		return nil, 0, fmt.Errorf("%w: reading metadata: %v", ErrFormat, err)
	}
	meta, err := decodeMetadata(encoded)
	if err != nil {
		return nil, 0, err
	}

	want := streamStart + int64(meta.streamSize())
	if stat.Size() != want {
		return nil, 0, fmt.Errorf("%w: file is %d bytes, block table requires %d",
			ErrFormat, stat.Size(), want)
	}
	return meta, streamStart, nil
}

// unlockKey recovers the content key: the clear key field when
// present, otherwise the envelope unwrapped with the caller's
// identity. Unwrap failures carry no detail about why, only the
// recipient fingerprint the envelope was addressed to.
func unlockKey(meta *Metadata, identity *secret.Buffer) (*secret.Buffer, error) {
	if meta.Envelope == nil {
		dek, err := secret.NewFromBytes(meta.Key)
		if err != nil {
			return nil, fmt.Errorf("protecting content key: %w", err)
		}
		return dek, nil
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: container key is wrapped for recipient %s and no identity was supplied",
			ErrConfiguration, meta.Envelope.Recipient)
	}
	dek, err := sealed.Decrypt(meta.Envelope.WrappedKey, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient %s", ErrKeyUnwrap, meta.Envelope.Recipient)
	}
	if dek.Len() != KeySize {
		dek.Close()
		return nil, fmt.Errorf("%w: recipient %s", ErrKeyUnwrap, meta.Envelope.Recipient)
	}
	return dek, nil
}

// Length returns the plaintext payload size in bytes.
func (r *Reader) Length() uint64 { return r.meta.Length }

// BlockSize returns the plaintext bytes per block.
func (r *Reader) BlockSize() uint32 { return r.meta.BlockSize }

// NumBlocks returns the number of blocks in the container.
func (r *Reader) NumBlocks() int { return len(r.meta.Blocks) }

// ModeTag returns the hex derivation commitment from the metadata.
func (r *Reader) ModeTag() string { return r.meta.ModeTag }

// Close zeroes the derived key material and closes the container
// file. The Reader must not be used afterward.
func (r *Reader) Close() error {
	r.dek.Close()
	r.nonceSeed.Close()
	return r.file.Close()
}

// streamBlocks decrypts blocks first through last inclusive on the
// worker pool and delivers plaintext payloads to sink in index
// order.
func (r *Reader) streamBlocks(ctx context.Context, first, last uint64, sink func(index uint64, plaintext []byte) error) error {
	return runBlockPipeline(ctx, r.workers, first,
		func(_ context.Context, emit func([]byte) error) error {
			for i := first; i <= last; i++ {
				block := r.meta.Blocks[i]
				ciphertext := make([]byte, block.CiphertextLength)
				if _, err := r.file.ReadAt(ciphertext, r.streamStart+int64(block.Offset)); err != nil {
					return fmt.Errorf("%w: reading block %d: %v", ErrFormat, i, err)
				}
				if err := emit(ciphertext); err != nil {
					return err
				}
			}
			return nil
		},
		func(_ context.Context, index uint64, ciphertext []byte) ([]byte, error) {
			frame, err := openBlock(r.aead, r.nonceSeed.Bytes(), index, ciphertext)
			if err != nil {
				return nil, err
			}
			plaintext, err := decodeFrame(frame, r.meta.Compression, int(r.meta.Blocks[index].PlaintextLength))
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", index, err)
			}
			return plaintext, nil
		},
		sink,
	)
}

// Unpack decrypts the whole payload to destPath. Like Pack, the
// destination appears atomically via a temp file and rename; a
// failed unpack leaves nothing behind.
func (r *Reader) Unpack(ctx context.Context, destPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".cask-*")
	if err != nil {
		return fmt.Errorf("creating output temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if len(r.meta.Blocks) > 0 {
		err := r.streamBlocks(ctx, 0, uint64(len(r.meta.Blocks))-1, func(_ uint64, plaintext []byte) error {
			if _, err := tmp.Write(plaintext); err != nil {
				return fmt.Errorf("writing plaintext: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("renaming output into place: %w", err)
	}
	success = true
	return nil
}

// WriteTo streams the whole payload to w in block order. Unlike
// Unpack there is no temp-and-rename step: bytes already delivered
// stay delivered when a later block fails. That is the natural
// contract for pipes and stdout.
func (r *Reader) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	if len(r.meta.Blocks) == 0 {
		return 0, nil
	}
	var written int64
	err := r.streamBlocks(ctx, 0, uint64(len(r.meta.Blocks))-1, func(_ uint64, plaintext []byte) error {
		n, err := w.Write(plaintext)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("writing plaintext: %w", err)
		}
		return nil
	})
	return written, err
}

// ReadRange returns payload bytes [offset, offset+length), clamped
// to the payload end. Only the blocks overlapping the range are
// read and decrypted; a range inside one block touches one block.
// An offset at or past the end returns an empty slice, not an
// error, matching io semantics for reads past EOF after clamping.
func (r *Reader) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: negative offset or length", ErrConfiguration)
	}
	total := r.meta.Length
	if uint64(offset) >= total || length == 0 {
		return []byte{}, nil
	}
	end := uint64(offset) + uint64(length)
	if end > total {
		end = total
	}

	blockSize := uint64(r.meta.BlockSize)
	firstBlock := uint64(offset) / blockSize
	lastBlock := (end - 1) / blockSize

	result := make([]byte, 0, end-uint64(offset))
	err := r.streamBlocks(ctx, firstBlock, lastBlock, func(index uint64, plaintext []byte) error {
		blockStart := index * blockSize
		from := uint64(0)
		if blockStart < uint64(offset) {
			from = uint64(offset) - blockStart
		}
		to := uint64(len(plaintext))
		if blockStart+to > end {
			to = end - blockStart
		}
		result = append(result, plaintext[from:to]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyBlocks decrypts and decodes every block, discarding the
// plaintext. It returns the number of blocks verified. Combined
// with the gates Open already ran, a nil error means every byte of
// the container authenticated.
func (r *Reader) VerifyBlocks(ctx context.Context) (int, error) {
	if len(r.meta.Blocks) == 0 {
		return 0, nil
	}
	err := r.streamBlocks(ctx, 0, uint64(len(r.meta.Blocks))-1, func(uint64, []byte) error {
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(r.meta.Blocks), nil
}

// Info is a key-free summary of a container file: everything the
// header and metadata say without touching key material, so it
// works on containers the caller cannot decrypt.
type Info struct {
	Compression   Codec          `json:"compression"`
	Cipher        Cipher         `json:"cipher"`
	Mode          DerivationMode `json:"mode"`
	BlockSize     uint32         `json:"block_size"`
	HeadBytes     uint64         `json:"head_bytes,omitempty"`
	Length        uint64         `json:"length"`
	Blocks        int            `json:"blocks"`
	ModeTag       string         `json:"mode_tag"`
	MetadataSize  int64          `json:"metadata_size"`
	ContainerSize int64          `json:"container_size"`
	Wrapped       bool           `json:"wrapped"`
	Recipient     string         `json:"recipient,omitempty"`
	Signed        bool           `json:"signed"`
	Signer        string         `json:"signer,omitempty"`
}

// Inspect reads a container's header and metadata and returns the
// summary. No identity or verification key is needed; the signature
// and derivation tag are reported but not checked.
func Inspect(path string) (*Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer file.Close()

	meta, streamStart, err := readContainer(file)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Compression:   meta.Compression,
		Cipher:        meta.Cipher,
		Mode:          meta.Mode,
		BlockSize:     meta.BlockSize,
		HeadBytes:     meta.HeadBytes,
		Length:        meta.Length,
		Blocks:        len(meta.Blocks),
		ModeTag:       meta.ModeTag,
		MetadataSize:  streamStart - int64(HeaderSize),
		ContainerSize: streamStart + int64(meta.streamSize()),
	}
	if meta.Envelope != nil {
		info.Wrapped = true
		info.Recipient = meta.Envelope.Recipient
	}
	if meta.Signature != nil {
		info.Signed = true
		info.Signer = meta.Signature.Signer
	}
	return info, nil
}

// RawMetadata returns the canonical CBOR metadata bytes of a
// container. The bytes are framed by the header but not decoded, so
// the raw view is available even when the metadata fails validation.
func RawMetadata(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}
	header := make([]byte, HeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	metadataLength, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	if int64(HeaderSize)+int64(metadataLength) > stat.Size() {
		return nil, fmt.Errorf("%w: %d-byte file cannot hold %d bytes of metadata",
			ErrFormat, stat.Size(), metadataLength)
	}
	encoded := make([]byte, metadataLength)
	if _, err := file.ReadAt(encoded, HeaderSize); err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %v", ErrFormat, err)
	}
	return encoded, nil
}
