package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/folio/internal/signing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends key and reports whether a new row was written.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *domain.SigningKey) (bool, error) {
	if key == nil {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO signing_keys (key_id, algorithm, public_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key_id) DO NOTHING`,
		key.KeyID,
		key.Algorithm,
		key.PublicKey,
		key.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*domain.SigningKey, error) {
	var key domain.SigningKey
	err := db.WithContext(ctx).Raw(
		`SELECT key_id, algorithm, public_key, created_at
		 FROM signing_keys
		 WHERE key_id = ?`,
		strings.TrimSpace(keyID),
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.KeyID == "" {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.SigningKey, error) {
	var keys []domain.SigningKey
	err := db.WithContext(ctx).Raw(
		`SELECT key_id, algorithm, public_key, created_at
		 FROM signing_keys
		 ORDER BY created_at ASC, key_id ASC`,
	).Scan(&keys).Error
	return keys, err
}
