package scheduler

import (
	"context"

	"github.com/funderhq/payments/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(FromBillingConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

// FromBillingConfig maps the hot-reloadable billing defaults onto the loop
// settings. The interval is read once at startup; a changed interval applies
// on the next restart.
func FromBillingConfig(holder *config.BillingConfigHolder) Config {
	billing := holder.Get()
	return Config{
		RunInterval: billing.ReconcileInterval,
		RunTimeout:  billing.RunTimeout,
	}
}

func Start(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(runCtx)

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
