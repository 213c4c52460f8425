package providers

import (
	"github.com/mestredigital/creditos/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	pdf.Module,
)
