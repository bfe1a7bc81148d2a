package payment

import (
	"github.com/gridleaf/cellgauge/internal/payment/adapters"
	"github.com/gridleaf/cellgauge/internal/payment/adapters/razorpay"
	"github.com/gridleaf/cellgauge/internal/payment/gateway"
	"github.com/gridleaf/cellgauge/internal/payment/repository"
	paymentservice "github.com/gridleaf/cellgauge/internal/payment/service"
	"github.com/gridleaf/cellgauge/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.New),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			razorpay.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
