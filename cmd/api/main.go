package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/account"
	"github.com/gridleaf/cellgauge/internal/audit"
	"github.com/gridleaf/cellgauge/internal/auth"
	"github.com/gridleaf/cellgauge/internal/clock"
	"github.com/gridleaf/cellgauge/internal/config"
	"github.com/gridleaf/cellgauge/internal/inference"
	"github.com/gridleaf/cellgauge/internal/ledger"
	"github.com/gridleaf/cellgauge/internal/logger"
	"github.com/gridleaf/cellgauge/internal/migration"
	"github.com/gridleaf/cellgauge/internal/observability"
	"github.com/gridleaf/cellgauge/internal/order"
	"github.com/gridleaf/cellgauge/internal/payment"
	"github.com/gridleaf/cellgauge/internal/report"
	"github.com/gridleaf/cellgauge/internal/server"
	"github.com/gridleaf/cellgauge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		auth.Module,
		audit.Module,
		account.Module,
		ledger.Module,
		order.Module,
		payment.Module,
		inference.Module,
		report.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
