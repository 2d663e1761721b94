// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cask-format/cask/lib/codec"
)

// rewriteMetadata decodes a container's metadata, applies mutate, and
// splices the re-encoded metadata back in front of the untouched
// ciphertext stream. Used to forge containers that Open must reject.
func rewriteMetadata(t *testing.T, path string, mutate func(*Metadata)) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	metadataLength := binary.BigEndian.Uint32(data[headerPrefixSize:HeaderSize])
	var m Metadata
	if err := codec.Unmarshal(data[HeaderSize:HeaderSize+int(metadataLength)], &m); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}

	mutate(&m)

	encoded, err := m.encode()
	if err != nil {
		t.Fatalf("re-encoding metadata: %v", err)
	}
	header, err := encodeHeader(len(encoded))
	if err != nil {
		t.Fatal(err)
	}
	forged := make([]byte, 0, len(header)+len(encoded)+len(data)-HeaderSize-int(metadataLength))
	forged = append(forged, header...)
	forged = append(forged, encoded...)
	forged = append(forged, data[HeaderSize+int(metadataLength):]...)
	if err := os.WriteFile(path, forged, 0o644); err != nil {
		t.Fatal(err)
	}
}

// flipHex returns s with the first character replaced by a different
// hex digit.
func flipHex(s string) string {
	replacement := byte('a')
	if s[0] == 'a' {
		replacement = 'b'
	}
	return string(replacement) + s[1:]
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	cuts := []int{0, 5, HeaderSize - 1, len(data) / 2, len(data) - 1}
	for _, cut := range cuts {
		truncated := filepath.Join(t.TempDir(), "truncated.cask")
		if err := os.WriteFile(truncated, data[:cut], 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(truncated, OpenOptions{}); !errors.Is(err, ErrFormat) {
			t.Errorf("cut to %d bytes: error = %v, want ErrFormat", cut, err)
		}
	}
}

func TestOpenRejectsTrailingGarbage(t *testing.T) {
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	padded := filepath.Join(t.TempDir(), "padded.cask")
	if err := os.WriteFile(padded, append(data, 0xde, 0xad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(padded, OpenOptions{}); !errors.Is(err, ErrFormat) {
		t.Errorf("error = %v, want ErrFormat", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, OpenOptions{}); !errors.Is(err, ErrFormat) {
		t.Errorf("error = %v, want ErrFormat", err)
	}
}

func TestOpenRejectsLengthTamper(t *testing.T) {
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024})
	rewriteMetadata(t, path, func(m *Metadata) {
		m.Length++
	})

	if _, err := Open(path, OpenOptions{}); !errors.Is(err, ErrFormat) {
		t.Errorf("error = %v, want ErrFormat (block table no longer sums to length)", err)
	}
}

func TestOpenRejectsModeTagTamper(t *testing.T) {
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024})
	rewriteMetadata(t, path, func(m *Metadata) {
		m.ModeTag = flipHex(m.ModeTag)
	})

	if _, err := Open(path, OpenOptions{}); !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
}

func TestOpenRejectsParameterTamper(t *testing.T) {
	// Swapping the recorded codec for another valid one passes
	// structural validation; the derivation tag is what pins the
	// parameters to the key.
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024, Compression: CodecLZ4})
	rewriteMetadata(t, path, func(m *Metadata) {
		m.Compression = CodecZstd
	})

	if _, err := Open(path, OpenOptions{}); !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
}

func TestOpenSignedRejectsParameterTamperAsSignature(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024, SigningKey: private})
	rewriteMetadata(t, path, func(m *Metadata) {
		m.Compression = CodecZstd
	})

	// The signature gate runs before the derivation tag gate, so with
	// a verification key the same tamper surfaces as a signature
	// failure.
	if _, err := Open(path, OpenOptions{VerifyKey: public}); !errors.Is(err, ErrSignature) {
		t.Errorf("error = %v, want ErrSignature", err)
	}
}

func TestOpenRequiresSignatureWhenVerifying(t *testing.T) {
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024})

	if _, err := Open(path, OpenOptions{VerifyKey: public}); !errors.Is(err, ErrSignature) {
		t.Errorf("error = %v, want ErrSignature for unsigned container", err)
	}
}

func TestOpenRejectsWrongVerifyKey(t *testing.T) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherPublic, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024, SigningKey: private})

	if _, err := Open(path, OpenOptions{VerifyKey: otherPublic}); !errors.Is(err, ErrSignature) {
		t.Errorf("error = %v, want ErrSignature", err)
	}
}

func TestOpenRejectsShortVerifyKey(t *testing.T) {
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024})

	if _, err := Open(path, OpenOptions{VerifyKey: make([]byte, 7)}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestOpenSignedWithoutVerifyKey(t *testing.T) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024, SigningKey: private})

	// Without a verification key the signature is carried but not
	// checked.
	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reader.Close()
}

func TestVerifyBlocksRejectsCiphertextTamper(t *testing.T) {
	path := packToTemp(t, testPayload(30000), PackOptions{BlockSize: 1024})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	// The metadata gates do not cover block ciphertext, so Open
	// succeeds; the per-block authentication catches the damage.
	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if _, err := reader.VerifyBlocks(context.Background()); !errors.Is(err, ErrIntegrity) {
		t.Errorf("VerifyBlocks error = %v, want ErrIntegrity", err)
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := reader.Unpack(context.Background(), dest); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Unpack error = %v, want ErrIntegrity", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("Unpack left an output file behind after failing")
	}
}

func TestReadRangeRejectsNegativeArguments(t *testing.T) {
	path := packToTemp(t, testPayload(5000), PackOptions{BlockSize: 1024})
	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	if _, err := reader.ReadRange(context.Background(), -1, 10); !errors.Is(err, ErrConfiguration) {
		t.Errorf("negative offset: error = %v, want ErrConfiguration", err)
	}
	if _, err := reader.ReadRange(context.Background(), 0, -1); !errors.Is(err, ErrConfiguration) {
		t.Errorf("negative length: error = %v, want ErrConfiguration", err)
	}
}

func TestReaderConcurrentReadRange(t *testing.T) {
	payload := testPayload(100000)
	path := packToTemp(t, payload, PackOptions{BlockSize: 4096})
	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				offset := int64((g*2711 + i*977) % len(payload))
				length := int64(1 + (g+i*131)%5000)
				got, err := reader.ReadRange(context.Background(), offset, length)
				if err != nil {
					t.Errorf("ReadRange(%d, %d): %v", offset, length, err)
					return
				}
				end := offset + length
				if end > int64(len(payload)) {
					end = int64(len(payload))
				}
				if !bytes.Equal(got, payload[offset:end]) {
					t.Errorf("ReadRange(%d, %d) returned wrong bytes", offset, length)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestInspect(t *testing.T) {
	payload := testPayload(30000)
	dest := filepath.Join(t.TempDir(), "out.cask")
	result, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{BlockSize: 1024})
	if err != nil {
		t.Fatal(err)
	}

	info, err := Inspect(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Compression != CodecLZ4 {
		t.Errorf("Compression = %q, want %q", info.Compression, CodecLZ4)
	}
	if info.Cipher != CipherXChaCha20Poly1305 {
		t.Errorf("Cipher = %q, want %q", info.Cipher, CipherXChaCha20Poly1305)
	}
	if info.Mode != ModeTwoPass {
		t.Errorf("Mode = %q, want %q", info.Mode, ModeTwoPass)
	}
	if info.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", info.BlockSize)
	}
	if info.Length != 30000 {
		t.Errorf("Length = %d, want 30000", info.Length)
	}
	if info.Blocks != 30 {
		t.Errorf("Blocks = %d, want 30", info.Blocks)
	}
	if info.ModeTag != result.ModeTag {
		t.Errorf("ModeTag = %q, want %q", info.ModeTag, result.ModeTag)
	}
	if info.Wrapped || info.Signed {
		t.Errorf("Wrapped/Signed = %v/%v, want false/false", info.Wrapped, info.Signed)
	}
	stat, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.ContainerSize != stat.Size() {
		t.Errorf("ContainerSize = %d, file is %d bytes", info.ContainerSize, stat.Size())
	}
	if info.MetadataSize <= 0 {
		t.Errorf("MetadataSize = %d, want positive", info.MetadataSize)
	}
}

func TestRawMetadata(t *testing.T) {
	payload := testPayload(5000)
	path := packToTemp(t, payload, PackOptions{BlockSize: 1024})

	raw, err := RawMetadata(path)
	if err != nil {
		t.Fatalf("RawMetadata: %v", err)
	}

	// The bytes must be exactly the metadata region of the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	metadataLength := binary.BigEndian.Uint32(data[headerPrefixSize:HeaderSize])
	if !bytes.Equal(raw, data[HeaderSize:HeaderSize+int(metadataLength)]) {
		t.Error("RawMetadata does not match the file's metadata region")
	}

	// And they must decode as consistent metadata.
	if _, err := decodeMetadata(raw); err != nil {
		t.Errorf("decoding raw metadata: %v", err)
	}
}

func TestRawMetadataRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.cask")
	if err := os.WriteFile(path, []byte("not a container at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := RawMetadata(path); !errors.Is(err, ErrFormat) {
		t.Errorf("RawMetadata on garbage = %v, want ErrFormat", err)
	}
}
