package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/config"
	"gorm.io/gorm"
)

type UpsertCredentialRequest struct {
	ID           string  `json:"id"`
	ProviderID   string  `json:"providerId"`
	PropertyCode string  `json:"propertyCode"`
	Username     *string `json:"username"`
	Secret       string  `json:"secret"`
	Enabled      *bool   `json:"enabled"`
}

type ListMappingRequest struct {
	CredentialID string
	Kind         string
}

type UpsertMappingRequest struct {
	ID           string `json:"id"`
	CredentialID string `json:"credentialId"`
	Kind         string `json:"kind"`
	InternalID   string `json:"internalId"`
	ProviderCode string `json:"providerCode"`
	Active       *bool  `json:"active"`
}

type ResolveARIRequest struct {
	CredentialID string   `json:"credentialId"`
	Rooms        []string `json:"rooms"`
	RatePlans    []string `json:"ratePlans"`
}

type Service interface {
	ListProviders(ctx context.Context) []config.OTAProvider

	ListCredentials(ctx context.Context) ([]CredentialView, error)
	UpsertCredential(ctx context.Context, req UpsertCredentialRequest) (CredentialView, error)
	DeleteCredential(ctx context.Context, id string) error

	ListMappings(ctx context.Context, req ListMappingRequest) ([]Mapping, error)
	UpsertMapping(ctx context.Context, req UpsertMappingRequest) (Mapping, error)
	DeleteMapping(ctx context.Context, id string) error

	ResolveARI(ctx context.Context, req ResolveARIRequest) (ARIResolution, error)
}

// SecretResolver is the decrypt capability handed to the trusted sync job.
// It is never exposed over HTTP.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, orgID, credentialID snowflake.ID) ([]byte, error)
}

type MappingFilter struct {
	OrgID        snowflake.ID
	CredentialID snowflake.ID
	Kind         *MappingKind
	ActiveOnly   bool
}

type Repository interface {
	InsertCredential(ctx context.Context, db *gorm.DB, credential *Credential) error
	UpdateCredential(ctx context.Context, db *gorm.DB, credential *Credential) (bool, error)
	FindCredential(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Credential, error)
	ListCredentials(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Credential, error)
	DeleteCredential(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)

	InsertMapping(ctx context.Context, db *gorm.DB, mapping *Mapping) error
	UpdateMapping(ctx context.Context, db *gorm.DB, mapping *Mapping) (bool, error)
	FindMapping(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Mapping, error)
	ListMappings(ctx context.Context, db *gorm.DB, filter MappingFilter) ([]Mapping, error)
	DeleteMapping(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)
	DeleteMappingsByCredential(ctx context.Context, db *gorm.DB, orgID, credentialID snowflake.ID) error
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrMissingFields        = errors.New("missing_fields")
	ErrUnknownProvider      = errors.New("unknown_provider")
	ErrCredentialNotFound   = errors.New("credential_not_found")
	ErrCredentialExists     = errors.New("credential_already_exists")
	ErrCredentialIDRequired = errors.New("credentialId_required")
	ErrInvalidMappingKind   = errors.New("invalid_mapping_kind")
	ErrMappingNotFound      = errors.New("mapping_not_found")
	ErrMappingExists        = errors.New("mapping_already_exists")
	ErrMissingMappings      = errors.New("missing_mappings")
	ErrSecretUnavailable    = errors.New("credential_secret_unavailable")
)
