package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Sealer encrypts credential material at rest with NaCl secretbox.
// Sealed values are nonce || ciphertext.
type Sealer struct {
	key [32]byte
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext Secret) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal. Tampered or truncated input
// yields ErrMalformedSecret.
func (s *Sealer) Open(sealed []byte) (Secret, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed value too short", ErrMalformedSecret)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSecret, errDecrypt)
	}
	return out, nil
}

var errDecrypt = errors.New("decryption failed")
