package reservation

import (
	"github.com/mestredigital/creditos/internal/reservation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reservation.service",
	fx.Provide(service.NewService),
)
