package storage

import (
	"context"
	"trade_sim/internal/models"
	"trade_sim/pkg/logger"
)

// Sink — слив сессии в долговременное хранилище. Семантика — полная
// перезапись destination (идемпотентно), никакого дозаписывания.
// Ошибки синка для симулятора не фатальны.
type Sink interface {
	Save(ctx context.Context, tradeLog []models.TradeRecord, metadata map[string]string, dest string) error
}

// MultiSink — фан-аут по нескольким синкам. Каждый отрабатывает независимо,
// падение одного не мешает остальным.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	flat := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			flat = append(flat, s)
		}
	}
	return &MultiSink{sinks: flat}
}

func (m *MultiSink) Save(ctx context.Context, tradeLog []models.TradeRecord, metadata map[string]string, dest string) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Save(ctx, tradeLog, metadata, dest); err != nil {
			logger.Error("sink %T: save %s failed: %v", s, dest, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
