package account

import (
	"github.com/gridleaf/cellgauge/internal/account/repository"
	"github.com/gridleaf/cellgauge/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
