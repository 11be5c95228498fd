package postgres

import (
	"context"
	"fmt"

	"deal_guardian/internal/modules/config"
	"deal_guardian/pkg/db"

	"go.uber.org/fx"
)

// Module отдаёт tx-менеджер поверх мастер-пула; без живого пинга
// приложение не стартует.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
		),
	)
}
