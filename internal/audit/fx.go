package audit

import (
	"github.com/mestredigital/creditos/internal/audit/repository"
	"github.com/mestredigital/creditos/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
