// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
)

func TestPackOptionsDefaults(t *testing.T) {
	options := PackOptions{}.withDefaults()
	if options.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want %d", options.BlockSize, DefaultBlockSize)
	}
	if options.Compression != CodecLZ4 {
		t.Errorf("Compression = %q, want %q", options.Compression, CodecLZ4)
	}
	if options.Cipher != CipherXChaCha20Poly1305 {
		t.Errorf("Cipher = %q, want %q", options.Cipher, CipherXChaCha20Poly1305)
	}
	if options.Mode != ModeTwoPass {
		t.Errorf("Mode = %q, want %q", options.Mode, ModeTwoPass)
	}
}

func TestPackRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name    string
		options PackOptions
	}{
		{"unknown codec", PackOptions{Compression: "gzip"}},
		{"unknown cipher", PackOptions{Cipher: "des"}},
		{"unknown mode", PackOptions{Mode: "stream"}},
		{"two_pass with head bytes", PackOptions{Mode: ModeTwoPass, HeadBytes: 1}},
		{"firstN without head bytes", PackOptions{Mode: ModeSinglePassFirstN}},
		{"bad recipient", PackOptions{Recipient: "not-an-age-key"}},
		{"short signing key", PackOptions{SigningKey: make([]byte, 7)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out.cask")
			_, err := Pack(context.Background(), bytes.NewReader(nil), dest, test.options)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("error = %v, want ErrConfiguration", err)
			}
			if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
				t.Error("destination file exists after rejected options")
			}
		})
	}
}

func TestPackResultAccounting(t *testing.T) {
	payload := testPayload(30000)
	dest := filepath.Join(t.TempDir(), "out.cask")

	result, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{BlockSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if result.Length != 30000 {
		t.Errorf("Length = %d, want 30000", result.Length)
	}
	if result.Blocks != 30 {
		t.Errorf("Blocks = %d, want 30", result.Blocks)
	}
	if len(result.ModeTag) != modeTagLength {
		t.Errorf("ModeTag length = %d, want %d", len(result.ModeTag), modeTagLength)
	}
	stat, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if result.ContainerSize != stat.Size() {
		t.Errorf("ContainerSize = %d, file is %d bytes", result.ContainerSize, stat.Size())
	}
}

func TestPackSingleBlockExactFit(t *testing.T) {
	payload := testPayload(4096)
	dest := filepath.Join(t.TempDir(), "out.cask")

	result, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{BlockSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	if result.Blocks != 1 {
		t.Errorf("Blocks = %d, want 1 (payload fits exactly one block)", result.Blocks)
	}
}

func TestPackEmptyInput(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.cask")

	result, err := Pack(context.Background(), bytes.NewReader(nil), dest, PackOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Length != 0 || result.Blocks != 0 {
		t.Errorf("Length/Blocks = %d/%d, want 0/0", result.Length, result.Blocks)
	}

	info, err := Inspect(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 0 || info.Blocks != 0 {
		t.Errorf("Inspect Length/Blocks = %d/%d, want 0/0", info.Length, info.Blocks)
	}
}

func TestPackDeterministicSymmetric(t *testing.T) {
	payload := testPayload(50000)
	dir := t.TempDir()
	options := PackOptions{BlockSize: 4096}

	first := filepath.Join(dir, "first.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), first, options); err != nil {
		t.Fatal(err)
	}
	second := filepath.Join(dir, "second.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), second, options); err != nil {
		t.Fatal(err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two symmetric packs of identical input are not byte-identical")
	}
}

func TestPackSourceErrorLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.cask")
	errDisk := errors.New("disk error")

	_, err := Pack(context.Background(), iotest.ErrReader(errDisk), dest, PackOptions{})
	if !errors.Is(err, errDisk) {
		t.Fatalf("error = %v, want %v", err, errDisk)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("directory not clean after failed pack: %v", names)
	}
}

func TestPackCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.cask")
	_, err := Pack(ctx, bytes.NewReader(testPayload(1<<20)), dest, PackOptions{BlockSize: 4096})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("destination file exists after cancelled pack")
	}
}

func TestPackHeadBytesBeyondStream(t *testing.T) {
	// A head limit past the end of the frame stream is clamped, not
	// rejected; the container must still round-trip.
	payload := testPayload(10000)
	dest := filepath.Join(t.TempDir(), "out.cask")

	_, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{
		BlockSize: 4096,
		Mode:      ModeSinglePassFirstN,
		HeadBytes: 1 << 30,
	})
	if err != nil {
		t.Fatal(err)
	}

	reader, err := Open(dest, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, err := reader.ReadRange(context.Background(), 0, int64(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload did not round-trip")
	}
}

func TestPackOverwritesExistingDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.cask")
	if err := os.WriteFile(dest, []byte("stale bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	payload := testPayload(1000)
	if _, err := Pack(context.Background(), bytes.NewReader(payload), dest, PackOptions{}); err != nil {
		t.Fatal(err)
	}

	reader, err := Open(dest, OpenOptions{})
	if err != nil {
		t.Fatalf("Open after overwrite: %v", err)
	}
	defer reader.Close()
	if reader.Length() != 1000 {
		t.Errorf("Length = %d, want 1000", reader.Length())
	}
}

func TestPackWorkerCountIndependence(t *testing.T) {
	// The worker count is an execution detail; it must never change
	// the produced bytes.
	payload := testPayload(100000)
	dir := t.TempDir()

	serial := filepath.Join(dir, "serial.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), serial, PackOptions{BlockSize: 4096, Workers: 1}); err != nil {
		t.Fatal(err)
	}
	parallel := filepath.Join(dir, "parallel.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(payload), parallel, PackOptions{BlockSize: 4096, Workers: 8}); err != nil {
		t.Fatal(err)
	}

	a, err := os.ReadFile(serial)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(parallel)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("worker count changed the container bytes")
	}
}

func TestPackSignedContainerVerifies(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "signed.cask")
	if _, err := Pack(context.Background(), bytes.NewReader(testPayload(5000)), dest, PackOptions{
		BlockSize:  1024,
		SigningKey: private,
	}); err != nil {
		t.Fatal(err)
	}

	reader, err := Open(dest, OpenOptions{VerifyKey: public})
	if err != nil {
		t.Fatalf("Open with the right verify key: %v", err)
	}
	reader.Close()

	info, err := Inspect(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Signed {
		t.Error("Inspect does not report the signature")
	}
}
