// Package crypto seals state snapshots at rest with AES-256-GCM. Sealed payloads
// carry a one-byte version so readers can tell plaintext snapshots from sealed
// ones and keys can be rotated later.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Payload versions stored next to (or in front of) a snapshot.
const (
	VersionPlain  = 0
	VersionAESGCM = 1
)

// ErrOpen is returned when a sealed payload fails authentication.
var ErrOpen = errors.New("decryption failed: authentication or integrity check failed")

// Sealer encrypts snapshots. label is bound as associated data, so a payload
// sealed for one storage key cannot be replayed under another.
type Sealer interface {
	Seal(plaintext []byte, label string) ([]byte, error)
	Open(sealed []byte, label string) ([]byte, error)
	Version() int
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer creates a sealer from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Version reports VersionAESGCM.
func (s *AESSealer) Version() int { return VersionAESGCM }

// Seal returns nonce || ciphertext || tag.
func (s *AESSealer) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open reverses Seal.
func (s *AESSealer) Open(sealed []byte, label string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", n+s.aead.Overhead(), len(sealed))
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(label))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

// Plain stores payloads unchanged.
type Plain struct{}

func (Plain) Version() int { return VersionPlain }

func (Plain) Seal(plaintext []byte, _ string) ([]byte, error) { return plaintext, nil }

func (Plain) Open(sealed []byte, _ string) ([]byte, error) { return sealed, nil }

// FromKey returns an AESSealer for a non-empty key and Plain otherwise.
func FromKey(base64Key string) (Sealer, error) {
	if base64Key == "" {
		return Plain{}, nil
	}
	return NewAESSealer(base64Key)
}

// SealString seals and base64-encodes, for text-only stores.
func SealString(s Sealer, plaintext []byte, label string) (string, error) {
	b, err := s.Seal(plaintext, label)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// OpenString reverses SealString.
func OpenString(s Sealer, encoded, label string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return s.Open(b, label)
}

// Envelope prefixes a payload with its version byte so a single blob can be
// stored without a separate version column.
func Envelope(s Sealer, plaintext []byte, label string) ([]byte, error) {
	b, err := s.Seal(plaintext, label)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(s.Version())}, b...), nil
}

// OpenEnvelope reads a payload written by Envelope. Payloads that start with '{'
// are taken as plaintext JSON from before sealing was enabled.
func OpenEnvelope(s Sealer, blob []byte, label string) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	switch blob[0] {
	case '{':
		return blob, nil
	case VersionPlain:
		return blob[1:], nil
	case VersionAESGCM:
		if s.Version() != VersionAESGCM {
			return nil, fmt.Errorf("payload is sealed but no encryption key is configured")
		}
		return s.Open(blob[1:], label)
	}
	return nil, fmt.Errorf("unknown payload version %d", blob[0])
}
