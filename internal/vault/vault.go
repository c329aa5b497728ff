// Package vault seals small secrets with AES-256-GCM.
//
// Blobs are laid out as nonce(12) || tag(16) || ciphertext and carry no
// version prefix.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrInvalidKey = errors.New("invalid_vault_key")

	// ErrAuthenticationFailure covers tag mismatch, truncation and wrong key.
	// No plaintext is ever returned alongside it.
	ErrAuthenticationFailure = errors.New("vault_authentication_failure")
)

// Vault holds one deployment-wide key. It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

func New(key []byte) (*Vault, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// ParseKey decodes a 64 character hex key.
func ParseKey(raw string) ([]byte, error) {
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(decoded) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(decoded))
	}
	return decoded, nil
}

func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	return seal(v.aead, plaintext)
}

func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	return open(v.aead, blob)
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext)
}

// Open reverses Seal.
func Open(key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return open(aead, blob)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	// Seal appends the tag after the ciphertext; the stored layout puts it first.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

func open(aead cipher.AEAD, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrAuthenticationFailure
	}
	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ciphertext := blob[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}
