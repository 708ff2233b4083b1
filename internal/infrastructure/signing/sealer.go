// Package signing seals company certificates at rest and produces the
// signed document that accompanies each transmission.
package signing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrMalformedRef is returned when a sealed reference cannot be decoded
var ErrMalformedRef = errors.New("malformed sealed certificate reference")

const sealedPrefix = "sealed:v1:"

// Sealer encrypts certificate material with XChaCha20-Poly1305. A sealed
// reference is "sealed:v1:" followed by base64url(nonce || ciphertext).
type Sealer struct {
	key []byte
}

// NewSealer creates a sealer from a hex encoded 32-byte key
func NewSealer(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode certificate key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("certificate key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Sealer{key: key}, nil
}

// NewEphemeralSealer creates a sealer with a random key. References sealed
// with it cannot be opened after a restart.
func NewEphemeralSealer() (*Sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. companyTaxID is bound as associated data so a
// reference copied to another company fails to open.
func (s *Sealer) Seal(plaintext []byte, companyTaxID string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(companyTaxID))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a reference produced by Seal
func (s *Sealer) Open(ref, companyTaxID string) ([]byte, error) {
	if len(ref) <= len(sealedPrefix) || ref[:len(sealedPrefix)] != sealedPrefix {
		return nil, ErrMalformedRef
	}
	raw, err := base64.RawURLEncoding.DecodeString(ref[len(sealedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRef, err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformedRef
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(companyTaxID))
	if err != nil {
		return nil, fmt.Errorf("open certificate: %w", err)
	}
	return plaintext, nil
}
