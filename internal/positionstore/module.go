package positionstore

import (
	"deal_guardian/internal/modules/config"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("positionstore",
		fx.Provide(
			func(cfg *config.Config) *Store {
				return NewStore(cfg.StorePath)
			},
		),
	)
}
