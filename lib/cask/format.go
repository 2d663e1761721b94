// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Container format constants. Changing any of them breaks
// compatibility with every existing container file.
const (
	// HeaderSize is the fixed container header: 4-byte magic + 3-byte
	// version + 3-byte reserved + 4-byte big-endian metadata length.
	HeaderSize = 14

	// headerPrefixSize is the portion of the header that precedes the
	// metadata length: magic + version + reserved. These ten bytes are
	// the leading additional authenticated data for every block.
	headerPrefixSize = 10
)

// formatMagic is the 4-byte container file signature.
var formatMagic = [4]byte{'C', 'A', 'S', 'K'}

// formatVersion is the semantic format version {major, minor, patch}.
// Version 1.0.0 is the initial format.
var formatVersion = [3]byte{1, 0, 0}

// headerPrefix returns the constant ten-byte header prefix: magic,
// version, and zeroed reserved bytes.
func headerPrefix() []byte {
	prefix := make([]byte, headerPrefixSize)
	copy(prefix, formatMagic[:])
	copy(prefix[4:], formatVersion[:])
	return prefix
}

// encodeHeader builds the full 14-byte header for a metadata section
// of the given encoded length. The length must fit in 32 bits.
func encodeHeader(metadataLength int) ([]byte, error) {
	if metadataLength < 0 || int64(metadataLength) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: metadata is %d bytes, limit is %d",
			ErrFormat, metadataLength, uint32(math.MaxUint32))
	}
	header := make([]byte, HeaderSize)
	copy(header, headerPrefix())
	binary.BigEndian.PutUint32(header[headerPrefixSize:], uint32(metadataLength))
	return header, nil
}

// parseHeader validates a 14-byte header and returns the metadata
// length. The version check accepts only an exact match: readers do
// not guess at future revisions.
func parseHeader(header []byte) (uint32, error) {
	if len(header) < HeaderSize {
		return 0, fmt.Errorf("%w: header is %d bytes, want %d", ErrFormat, len(header), HeaderSize)
	}
	if [4]byte(header[:4]) != formatMagic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrFormat, header[:4])
	}
	if [3]byte(header[4:7]) != formatVersion {
		return 0, fmt.Errorf("%w: unsupported version %d.%d.%d (this code supports %d.%d.%d)",
			ErrFormat, header[4], header[5], header[6],
			formatVersion[0], formatVersion[1], formatVersion[2])
	}
	if [3]byte(header[7:10]) != [3]byte{} {
		return 0, fmt.Errorf("%w: non-zero reserved bytes %x", ErrFormat, header[7:10])
	}
	return binary.BigEndian.Uint32(header[headerPrefixSize:]), nil
}
