package metrics

import (
	"github.com/funderhq/payments/internal/config"
	"go.uber.org/fx"
)

// FromConfig builds the singleton metrics registry labeled for this deployment.
func FromConfig(cfg config.Config) *Metrics {
	return WithConfig(Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}

var Module = fx.Module("metrics",
	fx.Provide(FromConfig),
)
