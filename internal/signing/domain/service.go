package domain

import (
	"context"
	"crypto/ed25519"
	"errors"

	"gorm.io/gorm"
)

type Service interface {
	Sign(payload []byte) Signature
	CurrentKeyID() string
	CurrentPublicKey() (string, ed25519.PublicKey)

	// PublicKey resolves a key from the registry, current or retired.
	PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)

	// Register appends the current key to the registry if absent.
	Register(ctx context.Context) error

	ListKeys(ctx context.Context) ([]SigningKey, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *SigningKey) (bool, error)
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*SigningKey, error)
	List(ctx context.Context, db *gorm.DB) ([]SigningKey, error)
}

var (
	ErrKeyUnavailable = errors.New("signing_key_unavailable")
	ErrKeyConflict    = errors.New("signing_key_conflict")
	ErrInvalidSeed    = errors.New("invalid_signing_seed")
	ErrInvalidKeyID   = errors.New("invalid_signing_key_id")
)
