package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/billing"
	"github.com/funderhq/payments/internal/callback"
	"github.com/funderhq/payments/internal/clock"
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/gateway"
	"github.com/funderhq/payments/internal/ledger"
	"github.com/funderhq/payments/internal/metrics"
	"github.com/funderhq/payments/internal/migration"
	"github.com/funderhq/payments/internal/observability/logger"
	"github.com/funderhq/payments/internal/scheduler"
	"github.com/funderhq/payments/internal/server"
	"github.com/funderhq/payments/internal/token"
	"github.com/funderhq/payments/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		token.Module,
		gateway.Module,
		ledger.Module,
		callback.Module,
		billing.Module,
		scheduler.Module,

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
