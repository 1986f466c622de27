package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values written by Seal. Values without it are treated
// as plaintext rows stored before encryption was enabled.
const sealedPrefix = "enc:v1:"

// Sealer encrypts token strings before durable backends write them.
// It uses AES-256-GCM with a random nonce per value; the output is
// "enc:v1:" + base64(nonce || ciphertext || tag). A Sealer built without a
// key passes values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer. An empty key disables encryption; otherwise the
// key must be 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return &Sealer{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// ParseKey decodes a base64 key as used in configuration. An empty string
// yields a nil key.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("token encryption key is not valid base64: %w", err)
	}
	return key, nil
}

// Enabled reports whether values are encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.aead != nil
}

// Seal encrypts plaintext. Empty strings stay empty so that merge semantics
// are preserved.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Open decrypts a value produced by Seal. Unprefixed values are returned
// unchanged, so rows written before a key was configured stay readable.
func (s *Sealer) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, sealedPrefix)
	if !sealed {
		return value, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("token is encrypted but no encryption key is configured")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed token: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("sealed token too short")
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(plaintext), nil
}

// sealCredential encrypts the token fields of c.
func (s *Sealer) sealCredential(c Credential) (Credential, error) {
	var err error
	if c.AccessToken, err = s.Seal(c.AccessToken); err != nil {
		return Credential{}, err
	}
	if c.RefreshToken, err = s.Seal(c.RefreshToken); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// openCredential decrypts the token fields of c.
func (s *Sealer) openCredential(c Credential) (Credential, error) {
	var err error
	if c.AccessToken, err = s.Open(c.AccessToken); err != nil {
		return Credential{}, err
	}
	if c.RefreshToken, err = s.Open(c.RefreshToken); err != nil {
		return Credential{}, err
	}
	return c, nil
}
