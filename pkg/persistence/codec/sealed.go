package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/sasya/pkg/domain"
)

var sealedPrefix = []byte("sasya:sealed:v1:")

// KeyConfig holds the keys for encryption and decryption.
type KeyConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are older keys tried when decryption with ActiveKey fails.
	FallbackKeys [][]byte
}

// Sealed wraps a codec with AES-256-GCM encryption at rest.
type Sealed struct {
	inner Codec
	keys  KeyConfig
}

// NewSealed returns a codec that encrypts the output of inner.
func NewSealed(inner Codec, keys KeyConfig) (*Sealed, error) {
	if len(keys.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	if inner == nil {
		inner = Default()
	}
	return &Sealed{inner: inner, keys: keys}, nil
}

// ParseKey decodes a base64 AES-256 key as found in configuration.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Encode implements Codec.
func (c *Sealed) Encode(s *domain.Session) ([]byte, error) {
	plain, err := c.inner.Encode(s)
	if err != nil {
		return nil, err
	}
	sealed, err := encrypt(plain, c.keys.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session: %w", err)
	}
	return append(append([]byte(nil), sealedPrefix...), sealed...), nil
}

// Decode implements Codec. Unsealed payloads are rejected.
func (c *Sealed) Decode(data []byte) (*domain.Session, error) {
	if !bytes.HasPrefix(data, sealedPrefix) {
		return nil, errors.New("session is missing sealed envelope")
	}
	plain, err := decryptWithRotation(data[len(sealedPrefix):], c.keys.ActiveKey, c.keys.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return c.inner.Decode(plain)
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	for _, key := range append([][]byte{activeKey}, fallbackKeys...) {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
