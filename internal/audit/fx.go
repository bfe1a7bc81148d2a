package audit

import (
	"github.com/gridleaf/cellgauge/internal/audit/repository"
	"github.com/gridleaf/cellgauge/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
