// Package encryption implements the embedding cipher. Plaintext embeddings in
// their canonical textual form go in, opaque base64 strings come out.
package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher is the symmetric encrypt/decrypt primitive guarding embeddings at
// rest. Implementations must round-trip: Decrypt(Encrypt(s)) == s.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AEADCipher seals plaintext with XChaCha20-Poly1305. The ciphertext carries
// its random nonce as a prefix and is armored with base64.
type AEADCipher struct {
	key []byte
}

// NewAEADCipher derives a fixed-size key from the configured secret.
func NewAEADCipher(secret string) (*AEADCipher, error) {
	if secret == "" {
		return nil, errors.New("embedding cipher key is required")
	}
	key := sha256.Sum256([]byte(secret))
	return &AEADCipher{key: key[:]}, nil
}

// Encrypt seals the plaintext under a fresh random nonce.
func (c *AEADCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *AEADCipher) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, payload := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
