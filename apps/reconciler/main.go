package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/billing"
	"github.com/funderhq/payments/internal/clock"
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/gateway"
	"github.com/funderhq/payments/internal/ledger"
	"github.com/funderhq/payments/internal/metrics"
	"github.com/funderhq/payments/internal/migration"
	"github.com/funderhq/payments/internal/observability/logger"
	"github.com/funderhq/payments/internal/scheduler"
	"github.com/funderhq/payments/internal/token"
	"github.com/funderhq/payments/pkg/db"
	"go.uber.org/fx"
)

// The reconciler runs the eligibility-driven billing loop without the HTTP
// surface, so it can be deployed separately from the API.
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
		billing.Module,
		scheduler.Module,
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
