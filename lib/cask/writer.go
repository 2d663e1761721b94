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

	"github.com/cask-format/cask/lib/keyring"
	"github.com/cask-format/cask/lib/sealed"
	"github.com/cask-format/cask/lib/secret"
)

// DefaultBlockSize is the block size used when PackOptions leaves it
// zero. 1 MiB keeps random access fine-grained while the per-block
// cipher and table overhead stays under a tenth of a percent.
const DefaultBlockSize = 1 << 20

// PackOptions configures a pack run. The zero value packs with the
// defaults: 1 MiB blocks, lz4 compression, XChaCha20-Poly1305,
// two-pass derivation, one worker per CPU, symmetric key placement,
// no signature.
type PackOptions struct {
	// BlockSize is the plaintext bytes per block. 0 means
	// DefaultBlockSize.
	BlockSize uint32

	// Compression selects the block codec. Empty means CodecLZ4.
	Compression Codec

	// Cipher selects the AEAD. Empty means CipherXChaCha20Poly1305.
	Cipher Cipher

	// Mode selects how much of the frame stream feeds key
	// derivation. Empty means ModeTwoPass.
	Mode DerivationMode

	// HeadBytes bounds the derivation input in
	// ModeSinglePassFirstN. It must be zero in ModeTwoPass and
	// non-zero in ModeSinglePassFirstN.
	HeadBytes uint64

	// Recipient, when non-empty, is an age X25519 public key
	// ("age1..."); the content key is wrapped to it and the clear
	// key field is omitted. Empty means symmetric placement: the
	// key rides in the metadata.
	Recipient string

	// SigningKey, when non-nil, signs the canonical metadata with
	// Ed25519.
	SigningKey ed25519.PrivateKey

	// Workers is the block pipeline concurrency. 0 means
	// GOMAXPROCS.
	Workers int
}

// PackResult summarizes a completed pack.
type PackResult struct {
	// Length is the plaintext payload size in bytes.
	Length uint64
	// Blocks is the number of blocks written.
	Blocks int
	// ContainerSize is the total container file size in bytes.
	ContainerSize int64
	// ModeTag is the hex derivation commitment recorded in the
	// metadata.
	ModeTag string
}

func (o PackOptions) withDefaults() PackOptions {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Compression == "" {
		o.Compression = CodecLZ4
	}
	if o.Cipher == "" {
		o.Cipher = CipherXChaCha20Poly1305
	}
	if o.Mode == "" {
		o.Mode = ModeTwoPass
	}
	return o
}

// validate rejects unusable options before any input is read.
func (o PackOptions) validate() error {
	if _, err := ParseCodec(string(o.Compression)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := ParseCipher(string(o.Cipher)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	switch o.Mode {
	case ModeTwoPass:
		if o.HeadBytes != 0 {
			return fmt.Errorf("%w: mode %q does not take head bytes", ErrConfiguration, o.Mode)
		}
	case ModeSinglePassFirstN:
		if o.HeadBytes == 0 {
			return fmt.Errorf("%w: mode %q requires head bytes", ErrConfiguration, o.Mode)
		}
	}
	if o.Recipient != "" {
		if err := sealed.ParsePublicKey(o.Recipient); err != nil {
			return fmt.Errorf("%w: recipient: %v", ErrConfiguration, err)
		}
	}
	if o.SigningKey != nil && len(o.SigningKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: signing key is %d bytes, want %d",
			ErrConfiguration, len(o.SigningKey), ed25519.PrivateKeySize)
	}
	return nil
}

// Pack reads the source stream, derives the content key from the
// compressed block stream, and writes a sealed container to
// destPath. The destination appears atomically: bytes go to a
// temporary file in the destination directory that is renamed into
// place only after a successful sync. On error no destination file
// is created and working files are removed.
//
// The source is consumed exactly once. With a symmetric (no
// recipient) configuration, packing the same bytes with the same
// options produces a byte-identical container.
func Pack(ctx context.Context, source io.Reader, destPath string, options PackOptions) (*PackResult, error) {
	options = options.withDefaults()
	if err := options.validate(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(destPath)
	frames, cleanupFrames, err := spillFile(dir)
	if err != nil {
		return nil, err
	}
	defer cleanupFrames()

	hasher := newDerivationHasher(options.Mode, options.HeadBytes)
	length, frameLengths, err := packFrames(ctx, source, frames, hasher, options)
	if err != nil {
		return nil, err
	}

	ikm := hasher.inputKeyMaterial()
	dek, nonceSeed, err := deriveKeys(ikm[:])
	secret.Zero(ikm[:])
	if err != nil {
		return nil, err
	}
	defer dek.Close()
	defer nonceSeed.Close()

	modeTag, err := computeModeTag(dek, derivationParams{
		Mode:        options.Mode,
		BlockSize:   options.BlockSize,
		HeadBytes:   options.HeadBytes,
		Compression: options.Compression,
		Cipher:      options.Cipher,
	})
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Compression: options.Compression,
		Cipher:      options.Cipher,
		Mode:        options.Mode,
		BlockSize:   options.BlockSize,
		HeadBytes:   options.HeadBytes,
		Length:      length,
		ModeTag:     modeTag,
	}
	if options.Recipient != "" {
		wrapped, err := sealed.Encrypt(dek.Bytes(), options.Recipient)
		if err != nil {
			return nil, fmt.Errorf("wrapping content key: %w", err)
		}
		meta.Envelope = &Envelope{
			WrappedKey: wrapped,
			Recipient:  keyring.RecipientFingerprint(options.Recipient),
		}
	} else {
		meta.Key = append([]byte(nil), dek.Bytes()...)
	}

	aead, err := newAEAD(options.Cipher, dek.Bytes())
	if err != nil {
		return nil, err
	}

	if _, err := frames.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding frame spill: %w", err)
	}
	stream, cleanupStream, err := spillFile(dir)
	if err != nil {
		return nil, err
	}
	defer cleanupStream()

	blocks, err := encryptFrames(ctx, frames, stream, aead, nonceSeed.Bytes(), frameLengths, length, options)
	if err != nil {
		return nil, err
	}
	meta.Blocks = blocks

	if options.SigningKey != nil {
		if err := meta.sign(options.SigningKey); err != nil {
			return nil, err
		}
	}
	metadata, err := meta.encode()
	if err != nil {
		return nil, err
	}
	header, err := encodeHeader(len(metadata))
	if err != nil {
		return nil, err
	}

	if err := emitContainer(destPath, header, metadata, stream); err != nil {
		return nil, err
	}
	return &PackResult{
		Length:        length,
		Blocks:        len(blocks),
		ContainerSize: int64(HeaderSize) + int64(len(metadata)) + int64(meta.streamSize()),
		ModeTag:       modeTag,
	}, nil
}

// spillFile creates a temporary working file in dir. Working files
// live in the destination directory so the final rename never
// crosses a filesystem.
func spillFile(dir string) (*os.File, func(), error) {
	f, err := os.CreateTemp(dir, ".cask-spill-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating spill file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	return f, cleanup, nil
}

// packFrames is the compression pass: the source is read in
// block-size chunks, compressed into frames on the worker pool, and
// appended to the spill in index order while the derivation hasher
// absorbs the frame stream.
func packFrames(ctx context.Context, source io.Reader, spill *os.File, hasher *derivationHasher, options PackOptions) (uint64, []int, error) {
	var length uint64
	var frameLengths []int
	err := runBlockPipeline(ctx, options.Workers, 0,
		func(_ context.Context, emit func([]byte) error) error {
			for {
				buf := make([]byte, options.BlockSize)
				n, err := io.ReadFull(source, buf)
				if n > 0 {
					length += uint64(n)
					if err := emit(buf[:n]); err != nil {
						return err
					}
				}
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil
				}
				if err != nil {
					return fmt.Errorf("reading source: %w", err)
				}
			}
		},
		func(_ context.Context, index uint64, block []byte) ([]byte, error) {
			frame, err := encodeFrame(block, options.Compression)
			if err != nil {
				return nil, fmt.Errorf("compressing block %d: %w", index, err)
			}
			return frame, nil
		},
		func(_ uint64, frame []byte) error {
			if _, err := spill.Write(frame); err != nil {
				return fmt.Errorf("writing frame spill: %w", err)
			}
			hasher.absorb(frame)
			frameLengths = append(frameLengths, len(frame))
			return nil
		},
	)
	if err != nil {
		return 0, nil, err
	}
	return length, frameLengths, nil
}

// encryptFrames is the sealing pass: frames are read back from the
// compression spill, sealed on the worker pool, and appended to the
// ciphertext spill in index order while the block table is built.
func encryptFrames(ctx context.Context, frames io.Reader, stream *os.File, aead stdcipher.AEAD, nonceSeed []byte, frameLengths []int, length uint64, options PackOptions) ([]BlockDescriptor, error) {
	blocks := make([]BlockDescriptor, 0, len(frameLengths))
	var offset uint64
	err := runBlockPipeline(ctx, options.Workers, 0,
		func(_ context.Context, emit func([]byte) error) error {
			for _, frameLength := range frameLengths {
				buf := make([]byte, frameLength)
				if _, err := io.ReadFull(frames, buf); err != nil {
					return fmt.Errorf("reading frame spill: %w", err)
				}
				if err := emit(buf); err != nil {
					return err
				}
			}
			return nil
		},
		func(_ context.Context, index uint64, frame []byte) ([]byte, error) {
			return sealBlock(aead, nonceSeed, index, frame), nil
		},
		func(index uint64, ciphertext []byte) error {
			if _, err := stream.Write(ciphertext); err != nil {
				return fmt.Errorf("writing ciphertext spill: %w", err)
			}
			plaintextLength := uint64(options.BlockSize)
			if index == uint64(len(frameLengths))-1 {
				plaintextLength = length - uint64(options.BlockSize)*index
			}
			blocks = append(blocks, BlockDescriptor{
				Index:            index,
				Offset:           offset,
				CiphertextLength: uint64(len(ciphertext)),
				PlaintextLength:  plaintextLength,
			})
			offset += uint64(len(ciphertext))
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// emitContainer assembles the final file: header, metadata, then the
// ciphertext stream, written to a temp file and renamed into place
// only after a successful sync.
func emitContainer(destPath string, header, metadata []byte, stream *os.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".cask-*")
	if err != nil {
		return fmt.Errorf("creating container temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := tmp.Write(metadata); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding ciphertext spill: %w", err)
	}
	if _, err := io.Copy(tmp, stream); err != nil {
		return fmt.Errorf("writing ciphertext stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing container: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("renaming container into place: %w", err)
	}
	success = true
	return nil
}
