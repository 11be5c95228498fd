package runner

import (
	"context"

	"deal_guardian/internal/locks"
	"deal_guardian/pkg/db"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(tx *db.PgTxManager) *locks.PgRepo { return locks.NewPgRepo(tx) },
			func(repo *locks.PgRepo) locks.Repo { return repo },
			locks.NewService,
			func() Gateway { return NewLogGateway() },
			NewManager,
			NewRunner,
		),
		fx.Invoke(func(lc fx.Lifecycle, repo *locks.PgRepo, r *Runner) {
			var cancel context.CancelFunc
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := repo.EnsureSchema(ctx); err != nil {
						return err
					}
					var runCtx context.Context
					runCtx, cancel = context.WithCancel(context.Background())
					go r.Start(runCtx)
					return nil
				},
				OnStop: func(context.Context) error {
					if cancel != nil {
						cancel()
					}
					return nil
				},
			})
		}),
	)
}
