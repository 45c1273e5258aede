package ledger

import (
	"github.com/funderhq/payments/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

func New(p Params) *Client {
	return NewClient(p.Config.Ledger, p.Log)
}

var Module = fx.Module("ledger",
	fx.Provide(New),
)
