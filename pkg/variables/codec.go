package variables

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const encryptedValuePrefix = "enc:v1:"

// Codec seals and opens variable values with AES-256-GCM. The key is derived
// from the configured secret with SHA-256, so any secret length is accepted.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from the engine secret.
func NewCodec(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("variable encryption secret is empty")
	}

	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals a serialized value. Already-sealed values pass through
// unchanged so re-saving a loaded variable is safe.
func (c *Codec) Encrypt(value []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("variable codec is not initialized")
	}

	if IsEncryptedValue(value) {
		return value, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, value, nil)
	payload := append(nonce, ciphertext...)

	return []byte(encryptedValuePrefix + base64.StdEncoding.EncodeToString(payload)), nil
}

// Decrypt opens a sealed value. Plain values pass through unchanged.
func (c *Codec) Decrypt(value []byte) ([]byte, error) {
	if !IsEncryptedValue(value) {
		return value, nil
	}

	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("variable codec is not initialized")
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(string(value), encryptedValuePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted value: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(payload) < nonceSize {
		return nil, fmt.Errorf("encrypted value shorter than nonce")
	}

	plaintext, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}

	return plaintext, nil
}

// IsEncryptedValue reports whether the stored bytes carry the sealed prefix.
func IsEncryptedValue(value []byte) bool {
	return strings.HasPrefix(string(value), encryptedValuePrefix)
}
