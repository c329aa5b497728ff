package verification

import "go.uber.org/fx"

var Module = fx.Module("verification.service",
	fx.Provide(NewService),
)
