package main

import (
	"context"
	"log"

	"deal_guardian/internal/modules/config"
	"deal_guardian/internal/modules/feed"
	"deal_guardian/internal/modules/health"
	"deal_guardian/internal/modules/postgres"
	"deal_guardian/internal/notify"
	"deal_guardian/internal/positionstore"
	"deal_guardian/internal/runner"
	"deal_guardian/pkg/logger"
	"deal_guardian/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	logger.SetServiceName("deal-guardian")
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		health.Module(),
		feed.Module(),
		positionstore.Module(),
		fx.Provide(
			// Notifier: если TELEGRAM_* нет — используем stdout
			func(cfg *config.Config, store *positionstore.Store) notify.Notifier {
				if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
					if tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, store); err == nil {
						return tg
					}
				}
				return notify.NewStdout()
			},
		),
		runner.Module(),
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, n notify.Notifier) {
				tracing.SetServiceName("deal-guardian")
				_, closeTracer, err := tracing.InitTracer(tracing.Config{
					Host: cfg.Jaeger.Host,
					Port: cfg.Jaeger.Port,
				})
				if err != nil {
					logger.Error("init tracer: %v", err)
				}

				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if tg, ok := n.(*notify.Telegram); ok {
							if err := tg.Start(ctx); err != nil {
								return err
							}
						}
						return nil
					},
					OnStop: func(ctx context.Context) error {
						if tg, ok := n.(*notify.Telegram); ok {
							tg.Stop()
						}
						if closeTracer != nil {
							closeTracer()
						}
						return nil
					},
				})
			},
		),
	)
	app.Run()
}
