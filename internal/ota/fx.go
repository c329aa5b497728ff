package ota

import (
	"github.com/smallbiznis/folio/internal/ota/domain"
	"github.com/smallbiznis/folio/internal/ota/repository"
	"github.com/smallbiznis/folio/internal/ota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ota.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.SecretResolver { return s },
	),
)
