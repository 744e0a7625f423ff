package feed

import (
	"context"
	"trade_sim/internal/models"

	"github.com/pkg/errors"
)

// ErrNoTick — таблица есть, но пригодной строки в ней нет (пустая или битая).
var ErrNoTick = errors.New("no usable tick in upstream table")

// Source — источник тиков для воркеров. Fetch блокирует не дольше
// таймаута + ретраев; любая ошибка для воркера транзиентна.
type Source interface {
	Fetch(ctx context.Context, interval string) (*models.Tick, error)
}
