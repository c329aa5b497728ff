// Package domain contains the signing key registry model.
package domain

import "time"

const AlgorithmEd25519 = "ed25519"

// SigningKey is one entry of the append-only key registry. Rows are never
// updated or deleted.
type SigningKey struct {
	KeyID     string    `gorm:"primaryKey;type:text"`
	Algorithm string    `gorm:"type:text;not null"`
	PublicKey []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (SigningKey) TableName() string { return "signing_keys" }

// Signature is a detached signature and the key that produced it.
type Signature struct {
	Value []byte
	KeyID string
}
