package feed

import (
	"context"

	"deal_guardian/internal/modules/config"
	"deal_guardian/internal/modules/feed/service"
	"deal_guardian/internal/quotecache"

	"go.uber.org/fx"
)

// Module поднимает websocket-клиент маркет-дата гейтвея и кэш котировок.
func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(
			service.NewClient,
			func(cfg *config.Config) quotecache.Limiter {
				return quotecache.NewCountingLimiter(cfg.MaxSubscriptions)
			},
			func(c *service.Client, lim quotecache.Limiter) *quotecache.Cache {
				cache := quotecache.NewCache(c, lim)
				c.Bind(cache)
				return cache
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client, cache *quotecache.Cache) {
			var cancel context.CancelFunc
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					var runCtx context.Context
					runCtx, cancel = context.WithCancel(context.Background())
					go c.Start(runCtx)
					return nil
				},
				OnStop: func(context.Context) error {
					cache.UnsubscribeAll()
					if cancel != nil {
						cancel()
					}
					return nil
				},
			})
		}),
	)
}
