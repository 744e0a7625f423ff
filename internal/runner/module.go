package runner

import (
	"context"
	"trade_sim/internal/authz"
	"trade_sim/internal/feed"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/notify"
	"trade_sim/internal/storage"
	"trade_sim/pkg/db"
	"trade_sim/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(cfg *config.Config) (*authz.Authz, error) {
				return authz.New(cfg.AuthFile)
			},
			func(cfg *config.Config, auth *authz.Authz) feed.Source {
				return feed.NewHTTPSource(cfg, auth)
			},
			func(cfg *config.Config) notify.Notifier {
				if cfg.Telegram.Token == "" {
					return notify.NewStdout()
				}
				tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
				if err != nil {
					logger.Error("telegram notifier unavailable, falling back to stdout: %v", err)
					return notify.NewStdout()
				}
				return tg
			},
			func(ctx context.Context, cfg *config.Config, txm *db.PgTxManager) (storage.Sink, error) {
				csv, err := storage.NewCSVSink(cfg.CSVDir)
				if err != nil {
					return nil, err
				}
				if txm == nil {
					return storage.NewMultiSink(csv), nil
				}
				pg, err := storage.NewPGSink(ctx, txm)
				if err != nil {
					return nil, err
				}
				return storage.NewMultiSink(csv, pg), nil
			},
			NewManager, // *Manager
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					// best-effort слив всех живых сессий при остановке процесса
					m.StopAll(ctx)
					return nil
				},
			})
		}),
	)
}
