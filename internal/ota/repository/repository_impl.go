package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/ota/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const credentialColumns = `id, org_id, provider_id, property_code, username, secret_enc, enabled, created_at, updated_at`

const mappingColumns = `id, org_id, credential_id, kind, internal_id, provider_code, active, created_at, updated_at`

func (r *repo) InsertCredential(ctx context.Context, db *gorm.DB, credential *domain.Credential) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ota_credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.ID,
		credential.OrgID,
		credential.ProviderID,
		credential.PropertyCode,
		credential.Username,
		credential.SecretEnc,
		credential.Enabled,
		credential.CreatedAt,
		credential.UpdatedAt,
	).Error
}

// UpdateCredential rewrites a tenant's credential in place and reports
// whether a row matched.
func (r *repo) UpdateCredential(ctx context.Context, db *gorm.DB, credential *domain.Credential) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ota_credentials
		 SET provider_id = ?, property_code = ?, username = ?, secret_enc = ?, enabled = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		credential.ProviderID,
		credential.PropertyCode,
		credential.Username,
		credential.SecretEnc,
		credential.Enabled,
		credential.UpdatedAt,
		credential.OrgID,
		credential.ID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindCredential(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Credential, error) {
	var credential domain.Credential
	err := db.WithContext(ctx).Raw(
		`SELECT `+credentialColumns+`
		 FROM ota_credentials
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&credential).Error
	if err != nil {
		return nil, err
	}
	if credential.ID == 0 {
		return nil, nil
	}
	return &credential, nil
}

func (r *repo) ListCredentials(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Credential, error) {
	var credentials []domain.Credential
	err := db.WithContext(ctx).Raw(
		`SELECT `+credentialColumns+`
		 FROM ota_credentials
		 WHERE org_id = ?
		 ORDER BY created_at DESC, id DESC`,
		orgID,
	).Scan(&credentials).Error
	if err != nil {
		return nil, err
	}
	return credentials, nil
}

func (r *repo) DeleteCredential(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM ota_credentials WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertMapping(ctx context.Context, db *gorm.DB, mapping *domain.Mapping) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ota_mappings (`+mappingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mapping.ID,
		mapping.OrgID,
		mapping.CredentialID,
		string(mapping.Kind),
		mapping.InternalID,
		mapping.ProviderCode,
		mapping.Active,
		mapping.CreatedAt,
		mapping.UpdatedAt,
	).Error
}

func (r *repo) UpdateMapping(ctx context.Context, db *gorm.DB, mapping *domain.Mapping) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ota_mappings
		 SET credential_id = ?, kind = ?, internal_id = ?, provider_code = ?, active = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		mapping.CredentialID,
		string(mapping.Kind),
		mapping.InternalID,
		mapping.ProviderCode,
		mapping.Active,
		mapping.UpdatedAt,
		mapping.OrgID,
		mapping.ID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindMapping(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Mapping, error) {
	var mapping domain.Mapping
	err := db.WithContext(ctx).Raw(
		`SELECT `+mappingColumns+`
		 FROM ota_mappings
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&mapping).Error
	if err != nil {
		return nil, err
	}
	if mapping.ID == 0 {
		return nil, nil
	}
	return &mapping, nil
}

func (r *repo) ListMappings(ctx context.Context, db *gorm.DB, filter domain.MappingFilter) ([]domain.Mapping, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + mappingColumns + ` FROM ota_mappings WHERE org_id = ? AND credential_id = ?`)
	args := []any{filter.OrgID, filter.CredentialID}

	if filter.Kind != nil {
		query.WriteString(` AND kind = ?`)
		args = append(args, string(*filter.Kind))
	}
	if filter.ActiveOnly {
		query.WriteString(` AND active = ?`)
		args = append(args, true)
	}
	query.WriteString(` ORDER BY kind ASC, internal_id ASC`)

	var mappings []domain.Mapping
	if err := db.WithContext(ctx).Raw(query.String(), args...).Scan(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *repo) DeleteMapping(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM ota_mappings WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteMappingsByCredential(ctx context.Context, db *gorm.DB, orgID, credentialID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM ota_mappings WHERE org_id = ? AND credential_id = ?`,
		orgID,
		credentialID,
	).Error
}
