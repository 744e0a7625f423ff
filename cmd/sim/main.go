package main

import (
	"context"
	"log"
	"trade_sim/internal/modules/api"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/modules/health"
	"trade_sim/internal/modules/postgres"
	"trade_sim/internal/modules/tracing"
	"trade_sim/internal/runner"
	"trade_sim/pkg/logger"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.Invoke(func(cfg *config.Config) error {
			logger.SetServiceName("trade_sim")
			return logger.Init(cfg.LogLevel, cfg.LogFile)
		}),
		config.Module(),
		tracing.Module(),
		postgres.Module(),
		runner.Module(),
		health.Module(),
		api.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
