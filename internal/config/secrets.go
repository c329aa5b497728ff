package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const secretKeySize = 32

var (
	ErrVaultKeyMissing      = errors.New("VAULT_KEY_HEX is required")
	ErrVaultKeyMalformed    = errors.New("VAULT_KEY_HEX must be 64 hex characters")
	ErrSigningSeedMalformed = errors.New("SIGNING_SEED_HEX must be 64 hex characters")
	ErrSigningSeedRequired  = errors.New("SIGNING_SEED_HEX is required in production")
)

// Secrets carries key material decoded from the environment. It is read-only
// after startup.
type Secrets struct {
	VaultKey []byte

	// SigningSeed is nil when no seed was configured.
	SigningSeed  []byte
	SigningKeyID string
}

// HasSigningSeed reports whether an operator-provided seed is present.
func (s Secrets) HasSigningSeed() bool {
	return len(s.SigningSeed) == secretKeySize
}

// LoadSecrets decodes and validates the vault key and the signing seed.
// Any error must abort startup.
func LoadSecrets(cfg Config) (Secrets, error) {
	vaultKey, err := decodeKey(cfg.VaultKeyHex)
	if err != nil {
		if errors.Is(err, errEmptyKey) {
			return Secrets{}, ErrVaultKeyMissing
		}
		return Secrets{}, fmt.Errorf("%w: %v", ErrVaultKeyMalformed, err)
	}

	secrets := Secrets{
		VaultKey:     vaultKey,
		SigningKeyID: strings.TrimSpace(cfg.SigningKeyID),
	}

	seed, err := decodeKey(cfg.SigningSeedHex)
	switch {
	case errors.Is(err, errEmptyKey):
		if cfg.IsProduction() {
			return Secrets{}, ErrSigningSeedRequired
		}
	case err != nil:
		return Secrets{}, fmt.Errorf("%w: %v", ErrSigningSeedMalformed, err)
	default:
		secrets.SigningSeed = seed
	}

	return secrets, nil
}

var errEmptyKey = errors.New("empty key")

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyKey
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(decoded) != secretKeySize {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(decoded), secretKeySize)
	}
	return decoded, nil
}
