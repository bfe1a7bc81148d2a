package ledger

import (
	"github.com/gridleaf/cellgauge/internal/ledger/repository"
	"github.com/gridleaf/cellgauge/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
