// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cask-format/cask/lib/keyring"
	"github.com/cask-format/cask/lib/sealed"
)

// testPayload returns size bytes with a period-251 pattern: varied
// enough to exercise block boundaries, repetitive enough to compress.
func testPayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return payload
}

func packToTemp(t *testing.T, payload []byte, options PackOptions) string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "container.cask")
	result, err := Pack(context.Background(), bytes.NewReader(payload), dest, options)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if result.Length != uint64(len(payload)) {
		t.Fatalf("packed length = %d, want %d", result.Length, len(payload))
	}
	return dest
}

func unpackToBytes(t *testing.T, reader *Reader) []byte {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "payload.bin")
	if err := reader.Unpack(context.Background(), dest); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestPackUnpackRoundTrip(t *testing.T) {
	payload := testPayload(30000)

	for _, mode := range []DerivationMode{ModeTwoPass, ModeSinglePassFirstN} {
		for _, compression := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
			for _, cipher := range []Cipher{CipherXChaCha20Poly1305, CipherAES256GCM} {
				name := fmt.Sprintf("%s/%s/%s", mode, compression, cipher)
				t.Run(name, func(t *testing.T) {
					options := PackOptions{
						BlockSize:   4096,
						Compression: compression,
						Cipher:      cipher,
						Mode:        mode,
					}
					if mode == ModeSinglePassFirstN {
						options.HeadBytes = 2048
					}
					path := packToTemp(t, payload, options)

					reader, err := Open(path, OpenOptions{})
					if err != nil {
						t.Fatalf("Open: %v", err)
					}
					defer reader.Close()

					if reader.Length() != uint64(len(payload)) {
						t.Errorf("Length = %d, want %d", reader.Length(), len(payload))
					}
					if reader.NumBlocks() != 8 {
						t.Errorf("NumBlocks = %d, want 8", reader.NumBlocks())
					}
					if got := unpackToBytes(t, reader); !bytes.Equal(got, payload) {
						t.Error("unpacked payload differs from input")
					}
				})
			}
		}
	}
}

func TestEmptyContainerRoundTrip(t *testing.T) {
	path := packToTemp(t, nil, PackOptions{})

	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if reader.Length() != 0 || reader.NumBlocks() != 0 {
		t.Errorf("Length/NumBlocks = %d/%d, want 0/0", reader.Length(), reader.NumBlocks())
	}
	if got := unpackToBytes(t, reader); len(got) != 0 {
		t.Errorf("unpacked %d bytes, want 0", len(got))
	}
	got, err := reader.ReadRange(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadRange returned %d bytes, want 0", len(got))
	}
	verified, err := reader.VerifyBlocks(context.Background())
	if err != nil || verified != 0 {
		t.Errorf("VerifyBlocks = %d, %v, want 0, nil", verified, err)
	}
}

func TestIncompressiblePayloadRoundTrip(t *testing.T) {
	payload := make([]byte, 30000)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}
	path := packToTemp(t, payload, PackOptions{BlockSize: 4096, Compression: CodecLZ4})

	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	if got := unpackToBytes(t, reader); !bytes.Equal(got, payload) {
		t.Error("unpacked payload differs from input")
	}
}

func TestWriteToStreamsWholePayload(t *testing.T) {
	payload := testPayload(30000)
	path := packToTemp(t, payload, PackOptions{BlockSize: 4096})

	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	var sink bytes.Buffer
	written, err := reader.WriteTo(context.Background(), &sink)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if written != int64(len(payload)) {
		t.Errorf("WriteTo reported %d bytes, want %d", written, len(payload))
	}
	if !bytes.Equal(sink.Bytes(), payload) {
		t.Error("streamed payload differs from input")
	}
}

func TestRecipientSignerScenario(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	payload := testPayload(30000)
	path := packToTemp(t, payload, PackOptions{
		BlockSize:   1024,
		Compression: CodecZstd,
		Recipient:   keypair.PublicKey,
		SigningKey:  private,
	})

	// No identity: the reader can see the envelope but not open it.
	if _, err := Open(path, OpenOptions{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("no identity: error = %v, want ErrConfiguration", err)
	}

	// Wrong identity: the unwrap fails without revealing why.
	stranger, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()
	if _, err := Open(path, OpenOptions{Identity: stranger.PrivateKey}); !errors.Is(err, ErrKeyUnwrap) {
		t.Errorf("wrong identity: error = %v, want ErrKeyUnwrap", err)
	}

	// Wrong verification key fails before key recovery is attempted.
	otherPublic, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, OpenOptions{Identity: keypair.PrivateKey, VerifyKey: otherPublic}); !errors.Is(err, ErrSignature) {
		t.Errorf("wrong verify key: error = %v, want ErrSignature", err)
	}

	// The right identity and key open everything.
	reader, err := Open(path, OpenOptions{Identity: keypair.PrivateKey, VerifyKey: public})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	verified, err := reader.VerifyBlocks(context.Background())
	if err != nil {
		t.Fatalf("VerifyBlocks: %v", err)
	}
	if verified != 30 {
		t.Errorf("verified %d blocks, want 30", verified)
	}
	got, err := reader.ReadRange(context.Background(), 0, int64(len(payload)))
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload differs after wrapped, signed round trip")
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Wrapped {
		t.Error("Inspect does not report the envelope")
	}
	if want := keyring.RecipientFingerprint(keypair.PublicKey); info.Recipient != want {
		t.Errorf("Recipient = %q, want %q", info.Recipient, want)
	}
	if !info.Signed {
		t.Error("Inspect does not report the signature")
	}
	if want := keyring.SigningFingerprint(public); info.Signer != want {
		t.Errorf("Signer = %q, want %q", info.Signer, want)
	}
}

func TestReadRangeMatchesSlice(t *testing.T) {
	payload := testPayload(30000)
	path := packToTemp(t, payload, PackOptions{BlockSize: 4096})
	reader, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	tests := []struct {
		name   string
		offset int64
		length int64
	}{
		{"zero length", 0, 0},
		{"inside one block", 10, 50},
		{"across block boundary", 4090, 20},
		{"several blocks", 9000, 3000},
		{"whole payload", 0, 30000},
		{"exactly one block", 4096, 4096},
		{"last byte", 29999, 1},
		{"clamped at end", 29990, 100},
		{"offset at end", 30000, 10},
		{"offset past end", 40000, 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := reader.ReadRange(context.Background(), test.offset, test.length)
			if err != nil {
				t.Fatalf("ReadRange(%d, %d): %v", test.offset, test.length, err)
			}
			want := []byte{}
			if test.offset < int64(len(payload)) {
				end := test.offset + test.length
				if end > int64(len(payload)) {
					end = int64(len(payload))
				}
				want = payload[test.offset:end]
			}
			if !bytes.Equal(got, want) {
				t.Errorf("ReadRange(%d, %d) = %d bytes, want %d; content mismatch",
					test.offset, test.length, len(got), len(want))
			}
		})
	}
}

func BenchmarkPack(b *testing.B) {
	payload := testPayload(8 << 20)
	dir := b.TempDir()
	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()
	i := 0
	for n := 0; n < b.N; n++ {
		dest := filepath.Join(dir, fmt.Sprintf("bench-%d.cask", i))
		i++
		if _, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{}); err != nil {
			b.Fatal(err)
		}
		os.Remove(dest)
	}
}

func BenchmarkReadRange(b *testing.B) {
	payload := testPayload(8 << 20)
	dest := filepath.Join(b.TempDir(), "bench.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{}); err != nil {
		b.Fatal(err)
	}
	reader, err := Open(dest, OpenOptions{})
	if err != nil {
		b.Fatal(err)
	}
	defer reader.Close()

	b.SetBytes(4096)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := reader.ReadRange(context.Background(), 1<<20, 4096); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerifyBlocks(b *testing.B) {
	payload := testPayload(8 << 20)
	dest := filepath.Join(b.TempDir(), "bench.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{}); err != nil {
		b.Fatal(err)
	}
	reader, err := Open(dest, OpenOptions{})
	if err != nil {
		b.Fatal(err)
	}
	defer reader.Close()

	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := reader.VerifyBlocks(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
