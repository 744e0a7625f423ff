package tracing

import (
	"context"
	"trade_sim/internal/modules/config"
	"trade_sim/pkg/tracing"

	"go.uber.org/fx"
)

// Module поднимает jaeger-трейсер, если в конфиге задан хост агента.
func Module() fx.Option {
	return fx.Module("tracing",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			if cfg.Tracing.Host == "" {
				return nil
			}

			tracing.SetServiceName("trade_sim")
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Tracing.Host,
				Port: cfg.Tracing.Port,
			})
			if err != nil {
				return err
			}

			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					closeTracer()
					return nil
				},
			})
			return nil
		}),
	)
}
