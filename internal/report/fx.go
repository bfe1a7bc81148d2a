package report

import (
	"context"

	"github.com/gridleaf/cellgauge/internal/report/repository"
	"github.com/gridleaf/cellgauge/internal/report/service"
	"github.com/gridleaf/cellgauge/internal/report/sweeper"
	"go.uber.org/fx"
)

var Module = fx.Module("report",
	fx.Provide(
		repository.Provide,
		service.New,
		sweeper.New,
	),
	fx.Invoke(startSweeper),
)

func startSweeper(lc fx.Lifecycle, s *sweeper.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go s.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
