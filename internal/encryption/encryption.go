// Package encryption seals snapshots before they leave the device. The relay
// only ever sees ciphertext and an account id derived from the key.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize = chacha20poly1305.KeySize

	formatVersion byte = 1

	// Argon2id parameters for passphrase-derived keys.
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

var (
	// ErrDecryptionFailed covers every failure to open a sealed blob: wrong
	// key, tampering, truncation or an unknown format.
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidKey       = errors.New("invalid encryption key")
)

// Cipher seals and opens snapshot payloads.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Box is an XChaCha20-Poly1305 Cipher. Sealed blobs are
// version || nonce || ciphertext+tag.
type Box struct {
	aead cipher.AEAD
}

var _ Cipher = (*Box)(nil)

func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Box{aead: aead}, nil
}

func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+b.aead.Overhead())
	out[0] = formatVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return b.aead.Seal(out, out[1:], plaintext, out[:1]), nil
}

func (b *Box) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+b.aead.Overhead() || ciphertext[0] != formatVersion {
		return nil, ErrDecryptionFailed
	}
	nonce := ciphertext[1 : 1+nonceSize]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext[1+nonceSize:], ciphertext[:1])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey returns a new random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey stretches a passphrase with Argon2id. Devices that use the same
// passphrase and sync name end up with the same key.
func DeriveKey(passphrase, syncName string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	sum := sha256.Sum256([]byte("habitsync/salt/" + strings.ToLower(strings.TrimSpace(syncName))))
	return argon2.IDKey([]byte(passphrase), sum[:saltSize], argonTime, argonMemory, argonThreads, KeySize), nil
}

// EncodeKey renders a key for storage in the OS keyring.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func DecodeKey(s string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}

// AccountID names the relay account of a key without revealing it.
func AccountID(key []byte) string {
	sum := sha256.Sum256(append([]byte("habitsync/account/"), key...))
	return hex.EncodeToString(sum[:])
}
