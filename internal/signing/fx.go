package signing

import (
	"context"
	"time"

	"github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/internal/signing/repository"
	"github.com/smallbiznis/folio/internal/signing/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const registerTimeout = 10 * time.Second

var Module = fx.Module("signing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerOnStart),
)

// registerOnStart appends the current key to the registry before the server
// accepts traffic. A conflicting registry entry aborts startup.
func registerOnStart(lc fx.Lifecycle, svc domain.Service, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, registerTimeout)
			defer cancel()
			if err := svc.Register(ctx); err != nil {
				return err
			}
			log.Info("signing key ready", zap.String("pub_key_id", svc.CurrentKeyID()))
			return nil
		},
	})
}
