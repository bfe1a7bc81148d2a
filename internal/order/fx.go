package order

import (
	"github.com/gridleaf/cellgauge/internal/order/repository"
	"github.com/gridleaf/cellgauge/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
