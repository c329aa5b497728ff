package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type MappingKind string

const (
	MappingKindRoom MappingKind = "ROOM"
	MappingKindRate MappingKind = "RATE"
)

// Credential is a tenant's login for one OTA property. SecretEnc is the
// vault blob; plaintext is never stored.
type Credential struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;uniqueIndex:ux_ota_credentials_property,priority:1"`
	ProviderID   string       `gorm:"type:text;not null;uniqueIndex:ux_ota_credentials_property,priority:2"`
	PropertyCode string       `gorm:"type:text;not null;uniqueIndex:ux_ota_credentials_property,priority:3"`
	Username     *string      `gorm:"type:text"`
	SecretEnc    []byte       `gorm:"not null"`
	Enabled      bool         `gorm:"not null;default:true"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Credential) TableName() string { return "ota_credentials" }

// CredentialView is the masked shape returned to clients.
type CredentialView struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"providerId"`
	ProviderName string    `json:"providerName"`
	PropertyCode string    `json:"propertyCode"`
	Username     *string   `json:"username,omitempty"`
	Enabled      bool      `json:"enabled"`
	SecretMasked bool      `json:"secretMasked"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Mapping translates an internal room or rate plan id into the provider's code.
type Mapping struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"not null;uniqueIndex:ux_ota_mappings_internal,priority:1" json:"-"`
	CredentialID snowflake.ID `gorm:"not null;uniqueIndex:ux_ota_mappings_internal,priority:2" json:"credentialId"`
	Kind         MappingKind  `gorm:"type:text;not null;uniqueIndex:ux_ota_mappings_internal,priority:3" json:"kind"`
	InternalID   string       `gorm:"type:text;not null;uniqueIndex:ux_ota_mappings_internal,priority:4" json:"internalId"`
	ProviderCode string       `gorm:"type:text;not null" json:"providerCode"`
	Active       bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Mapping) TableName() string { return "ota_mappings" }

// ARIResolution holds provider codes in request order.
type ARIResolution struct {
	Rooms []string `json:"rooms"`
	Rates []string `json:"rates"`
}
