package gateway

import (
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

func New(p Params) *Client {
	return NewClient(p.Config.Gateway, p.Log, p.Metrics)
}

var Module = fx.Module("gateway",
	fx.Provide(New),
)
