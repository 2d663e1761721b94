// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/cask-format/cask/lib/sealed"
	"github.com/cask-format/cask/lib/secret"
)

// File names written by SaveSigningKeypair and SaveRecipientKeypair.
const (
	SigningKeyFile = "cask-signing-key"
	SigningPubFile = "cask-signing-key.pub"
	IdentityFile   = "cask-identity"
	RecipientFile  = "cask-identity.pub"
)

// fingerprintBytes is how many digest bytes a fingerprint keeps
// (16 hex characters).
const fingerprintBytes = 8

// Fingerprint returns the short BLAKE3 fingerprint of key material:
// the first 8 bytes of the BLAKE3-256 digest, lowercase hex.
func Fingerprint(material []byte) string {
	sum := blake3.Sum256(material)
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// RecipientFingerprint fingerprints an age recipient. The digest input
// is the recipient string itself (age1... bech32), not decoded key
// bytes, so the fingerprint can be computed without parsing the key.
func RecipientFingerprint(recipient string) string {
	return Fingerprint([]byte(recipient))
}

// SigningFingerprint fingerprints an Ed25519 public key (the raw
// 32 key bytes).
func SigningFingerprint(public ed25519.PublicKey) string {
	return Fingerprint(public)
}

// writeNew writes data to path with the given permissions, refusing
// to replace an existing file. Key files are never silently
// overwritten.
func writeNew(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// GenerateSigningKeypair creates a new Ed25519 keypair for container
// signing.
func GenerateSigningKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveSigningKeypair writes an Ed25519 keypair into dir. The private
// key file has 0600 permissions; the public key file has 0644.
func SaveSigningKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := writeNew(filepath.Join(dir, SigningKeyFile), private, 0600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}
	if err := writeNew(filepath.Join(dir, SigningPubFile), public, 0644); err != nil {
		return fmt.Errorf("writing signing public key: %w", err)
	}
	return nil
}

// LoadSigningKey loads an Ed25519 private key from path. Returns an
// error if the file is missing or has an unexpected size.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// LoadVerifyKey loads an Ed25519 public key from path. Returns an
// error if the file is missing or has an unexpected size.
func LoadVerifyKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading verify key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verify key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// SaveRecipientKeypair writes an age keypair into dir: the identity
// (private) with 0600 permissions, the recipient (public) with 0644,
// each followed by a newline.
func SaveRecipientKeypair(dir string, keypair *sealed.Keypair) error {
	identity := make([]byte, 0, keypair.PrivateKey.Len()+1)
	identity = append(identity, keypair.PrivateKey.Bytes()...)
	identity = append(identity, '\n')
	err := writeNew(filepath.Join(dir, IdentityFile), identity, 0600)
	secret.Zero(identity)
	if err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}

	if err := writeNew(filepath.Join(dir, RecipientFile), []byte(keypair.PublicKey+"\n"), 0644); err != nil {
		return fmt.Errorf("writing recipient: %w", err)
	}
	return nil
}

// LoadIdentity loads an age identity from path ("-" reads stdin). The
// file may be a bare AGE-SECRET-KEY-1 line or an age-keygen key file;
// comment and blank lines are skipped. The identity is validated and
// returned in a secret.Buffer the caller must Close.
func LoadIdentity(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, err
	}

	line := firstKeyLine(buffer.Bytes())
	if line == nil {
		buffer.Close()
		return nil, fmt.Errorf("no age identity in %s", path)
	}

	identity := buffer
	if len(line) != buffer.Len() {
		// Key files written by age-keygen carry comment lines above
		// the identity. Re-wrap just the key line.
		lineCopy := make([]byte, len(line))
		copy(lineCopy, line)
		rewrapped, err := secret.NewFromBytes(lineCopy)
		buffer.Close()
		if err != nil {
			return nil, fmt.Errorf("protecting identity: %w", err)
		}
		identity = rewrapped
	}

	if err := sealed.ParsePrivateKey(identity); err != nil {
		identity.Close()
		return nil, fmt.Errorf("identity %s: %w", path, err)
	}
	return identity, nil
}

// ResolveRecipient turns a recipient flag value into an age public
// key string. A value starting with "age1" is used directly; anything
// else is treated as a path to a recipient file.
func ResolveRecipient(value string) (string, error) {
	if strings.HasPrefix(value, "age1") {
		if err := sealed.ParsePublicKey(value); err != nil {
			return "", err
		}
		return value, nil
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("reading recipient file: %w", err)
	}
	line := firstKeyLine(data)
	if line == nil {
		return "", fmt.Errorf("no age recipient in %s", value)
	}
	recipient := string(line)
	if err := sealed.ParsePublicKey(recipient); err != nil {
		return "", fmt.Errorf("recipient file %s: %w", value, err)
	}
	return recipient, nil
}

// firstKeyLine returns the first non-empty, non-comment line. The
// returned slice aliases data.
func firstKeyLine(data []byte) []byte {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		return line
	}
	return nil
}
