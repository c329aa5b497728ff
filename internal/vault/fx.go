package vault

import (
	"github.com/smallbiznis/folio/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("vault",
	fx.Provide(func(secrets config.Secrets) (*Vault, error) {
		return New(secrets.VaultKey)
	}),
)
