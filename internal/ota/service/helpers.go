package service

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/config"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
)

const maskedSecret = "********"

var errInvalidID = errors.New("invalid_id")

func toView(catalog config.OTACatalog, c *otadomain.Credential) otadomain.CredentialView {
	name := c.ProviderID
	if provider, ok := catalog.Lookup(c.ProviderID); ok {
		name = provider.Name
	}
	return otadomain.CredentialView{
		ID:           c.ID.String(),
		ProviderID:   c.ProviderID,
		ProviderName: name,
		PropertyCode: c.PropertyCode,
		Username:     c.Username,
		Enabled:      c.Enabled,
		SecretMasked: true,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func parseKind(raw string) (otadomain.MappingKind, error) {
	switch kind := otadomain.MappingKind(strings.ToUpper(strings.TrimSpace(raw))); kind {
	case otadomain.MappingKindRoom, otadomain.MappingKindRate:
		return kind, nil
	default:
		return "", otadomain.ErrInvalidMappingKind
	}
}

func translate(ids []string, codes map[string]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if code, ok := codes[strings.TrimSpace(id)]; ok {
			out = append(out, code)
		}
	}
	return out
}

// maskValue keeps the first two characters.
func maskValue(value *string) string {
	if value == nil {
		return ""
	}
	v := strings.TrimSpace(*value)
	if len(v) <= 2 {
		return maskedSecret
	}
	return v[:2] + maskedSecret
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
