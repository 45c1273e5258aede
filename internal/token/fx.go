package token

import (
	"github.com/funderhq/payments/internal/token/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("token",
	fx.Provide(repository.Provide),
)
