package postgres

import (
	"context"
	"fmt"
	"trade_sim/internal/modules/config"
	"trade_sim/pkg/db"

	"go.uber.org/fx"
)

// Module поднимает пул мастера. Без DSN возвращаем nil-менеджер:
// постгрес для симулятора опционален, CSV-синка достаточно.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					return nil, nil
				}

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
