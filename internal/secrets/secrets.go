package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const sealedPrefix = "v1:"

var (
	ErrKeyRequired   = errors.New("LLM_SECRETS_KEY is required")
	ErrInvalidKey    = errors.New("LLM_SECRETS_KEY must be 32 bytes or base64-encoded 32 bytes")
	ErrInvalidSecret = errors.New("invalid encrypted secret")
)

var (
	newGCM     = cipher.NewGCM
	randReader io.Reader = rand.Reader
)

func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrKeyRequired
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, ErrInvalidKey
	}
	return decoded, nil
}

// Sealer encrypts backend API keys at rest with AES-256-GCM. The scope
// (the provider name) is bound as associated data, so a key sealed for one
// provider does not open for another.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromEnv parses raw as LLM_SECRETS_KEY.
func NewSealerFromEnv(raw string) (*Sealer, error) {
	key, err := ParseKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

func (s *Sealer) Seal(scope string, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(scope))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(scope string, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if !strings.HasPrefix(encoded, sealedPrefix) {
		return "", ErrInvalidSecret
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, sealedPrefix))
	if err != nil {
		return "", ErrInvalidSecret
	}
	if len(data) < s.aead.NonceSize() {
		return "", ErrInvalidSecret
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return "", ErrInvalidSecret
	}
	return string(plain), nil
}

// Mask renders a secret for display, keeping only the last four characters.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
