package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// sealer encrypts cached secrets with AES-256-GCM under a key that only
// lives as long as the owning Store.
type sealer struct {
	gcm cipher.AEAD
}

// newSealer creates a sealer with a fresh random 32-byte key
func newSealer() (*sealer, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext, binding it to the target id, and prepends the nonce
func (s *sealer) Seal(targetID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, []byte(targetID)), nil
}

// Open reverses Seal
func (s *sealer) Open(targetID string, sealed []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, []byte(targetID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
