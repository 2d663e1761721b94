// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm recorded in container
// metadata. The identifier applies to the whole container; individual
// blocks that do not shrink under it are stored as raw frames.
type Codec string

const (
	// CodecNone stores every block uncompressed. Right for content
	// that is already compressed (media, archives, packed binaries).
	CodecNone Codec = "none"

	// CodecLZ4 uses LZ4 block compression. Fast default for binary
	// data of unknown shape.
	CodecLZ4 Codec = "lz4"

	// CodecZstd uses zstd at its default level. Better ratios for
	// text-like content at higher CPU cost.
	CodecZstd Codec = "zstd"
)

// ParseCodec validates a codec identifier.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case CodecNone, CodecLZ4, CodecZstd:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unknown compression codec %q", name)
	}
}

// Frame tags. Each block's pre-encryption bytes begin with one tag
// byte saying how the body is encoded. The tag is inside the AEAD
// envelope, so it is authenticated along with the body.
const (
	// frameRaw marks a body stored without compression.
	frameRaw byte = 0x00

	// frameCompressed marks a body compressed with the container's
	// codec.
	frameCompressed byte = 0x01
)

// errIncompressible is returned by the codec helpers when compressed
// output would not be smaller than the input. encodeFrame responds by
// storing the block as a raw frame.
var errIncompressible = errors.New("block not compressible")

// encodeFrame compresses a plaintext block into its frame: a tag byte
// followed by the body. Blocks the codec cannot shrink fall back to a
// raw frame; with CodecNone every frame is raw.
func encodeFrame(block []byte, codec Codec) ([]byte, error) {
	if codec == CodecNone {
		return rawFrame(block), nil
	}

	var compressed []byte
	var err error
	switch codec {
	case CodecLZ4:
		compressed, err = compressLZ4(block)
	case CodecZstd:
		compressed, err = compressZstd(block)
	default:
		return nil, fmt.Errorf("%w: unknown compression codec %q", ErrConfiguration, codec)
	}
	if errors.Is(err, errIncompressible) {
		return rawFrame(block), nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 1+len(compressed))
	frame[0] = frameCompressed
	copy(frame[1:], compressed)
	return frame, nil
}

// decodeFrame decodes a block frame back to plaintext. The plaintext
// length must match the block descriptor exactly; a mismatch means
// the container lied about its own layout.
func decodeFrame(frame []byte, codec Codec, plaintextLength int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty block frame", ErrFormat)
	}
	tag, body := frame[0], frame[1:]

	switch tag {
	case frameRaw:
		if len(body) != plaintextLength {
			return nil, fmt.Errorf("%w: raw frame body is %d bytes, descriptor says %d",
				ErrIntegrity, len(body), plaintextLength)
		}
		return body, nil

	case frameCompressed:
		if codec == CodecNone {
			return nil, fmt.Errorf("%w: compressed frame in a container declaring codec %q",
				ErrFormat, CodecNone)
		}
		var plaintext []byte
		var err error
		switch codec {
		case CodecLZ4:
			plaintext, err = decompressLZ4(body, plaintextLength)
		case CodecZstd:
			plaintext, err = decompressZstd(body, plaintextLength)
		default:
			return nil, fmt.Errorf("%w: unknown compression codec %q", ErrFormat, codec)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		return plaintext, nil

	default:
		return nil, fmt.Errorf("%w: unknown frame tag 0x%02x", ErrFormat, tag)
	}
}

// rawFrame wraps a block in an uncompressed frame.
func rawFrame(block []byte) []byte {
	frame := make([]byte, 1+len(block))
	frame[0] = frameRaw
	copy(frame[1:], block)
	return frame
}

// LZ4 compression: block mode.

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also reject output that is not actually smaller
	// than the input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// Zstd compression at the default level.

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("cask: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cask: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
