// Package security provides identifier minting, contact fingerprinting, key
// derivation, sealing and token utilities for the conversion pipeline.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey        = errors.New("invalid key length")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Sealer encrypts values with AES-GCM under one key
type Sealer struct {
	aead cipher.AEAD
}

// parseKey accepts a hex-encoded key (16, 24 or 32 bytes once decoded) or the
// raw bytes of a 16, 24 or 32 character string.
func parseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	keyBytes := []byte(key)
	if len(key) == 32 || len(key) == 48 || len(key) == 64 {
		if decoded, err := hex.DecodeString(key); err == nil && (len(decoded) == 16 || len(decoded) == 24 || len(decoded) == 32) {
			keyBytes = decoded
		}
	}

	if len(keyBytes) != 16 && len(keyBytes) != 24 && len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: %d bytes, must be 16, 24, or 32", ErrInvalidKey, len(keyBytes))
	}
	return keyBytes, nil
}

// NewSealer builds a sealer for key.
func NewSealer(key string) (*Sealer, error) {
	keyBytes, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts data and returns nonce||ciphertext as URL-safe base64.
func (s *Sealer) Seal(data string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(data), nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// Encrypt seals data with a one-off sealer for key.
func Encrypt(data, key string) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Seal(data)
}

// Decrypt opens data sealed by Encrypt.
func Decrypt(encrypted, key string) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Open(encrypted)
}
