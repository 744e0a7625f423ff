package storage

import (
	"context"
	"trade_sim/internal/models"
	"trade_sim/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS simulation_sessions (
    session_id TEXT PRIMARY KEY,
    metadata   JSONB NOT NULL,
    trade_log  JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSession = `
INSERT INTO simulation_sessions (session_id, metadata, trade_log, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id)
DO UPDATE SET metadata = EXCLUDED.metadata, trade_log = EXCLUDED.trade_log, updated_at = now()`

// PGSink — вторичный синк: вся сессия одним upsert'ом (metadata + trade_log
// как jsonb). destination — session_id, как и у CSV, только без файла.
type PGSink struct {
	tx *db.PgTxManager
}

func NewPGSink(ctx context.Context, tx *db.PgTxManager) (*PGSink, error) {
	s := &PGSink{tx: tx}
	err := tx.RunMaster(ctx, func(ctxTx context.Context, t pgx.Tx) error {
		_, err := t.Exec(ctxTx, createSessionsTable)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure simulation_sessions")
	}
	return s, nil
}

func (s *PGSink) Save(ctx context.Context, tradeLog []models.TradeRecord, metadata map[string]string, dest string) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "PGSink.Save")
		}
	}()

	meta, err := sonic.Marshal(metadata)
	if err != nil {
		return err
	}
	if tradeLog == nil {
		tradeLog = []models.TradeRecord{}
	}
	log, err := sonic.Marshal(tradeLog)
	if err != nil {
		return err
	}

	return s.tx.RunMaster(ctx, func(ctxTx context.Context, t pgx.Tx) error {
		_, err := t.Exec(ctxTx, upsertSession, dest, meta, log)
		return err
	})
}
