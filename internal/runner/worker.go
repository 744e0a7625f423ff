package runner

import (
	"context"
	"time"
	"trade_sim/internal/simulator"
	"trade_sim/pkg/logger"
)

// runLoop — воркер одной сессии. Единственный, кто мутирует свой симулятор.
// Любая ошибка итерации (fetch, parse) логируется и цикл продолжается —
// один неудачный опрос сессию не убивает. Выходит, когда сессию сняли
// с реестра или погасили флаг running, т.е. не позже чем через цикл.
func (m *Manager) runLoop(ctx context.Context, sim *simulator.TradeSimulator, interval, sessionID string) {
	poll := m.cfg.PollInterval(interval)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	logger.Info("worker %s: started, poll %s", sessionID, poll)

	for {
		running, paused, exists := m.status(interval, sessionID)
		if !exists || !running {
			logger.Info("worker %s: session gone, exiting", sessionID)
			return
		}

		m.iterate(ctx, sim, interval, sessionID, paused)

		select {
		case <-ctx.Done():
			logger.Info("worker %s: context cancelled, exiting", sessionID)
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) iterate(ctx context.Context, sim *simulator.TradeSimulator, interval, sessionID string, paused bool) {
	tick, err := m.source.Fetch(ctx, interval)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("worker %s: fetch failed, cycle skipped: %v", sessionID, err)
		}
		return
	}

	if m.state != nil {
		m.state.TouchTick(time.Now())
	}

	// на паузе сигналы не считаем, но защитный стоп караулим
	if paused {
		sim.MonitorStopLoss(ctx, tick)
		return
	}
	sim.ProcessTick(ctx, tick)
}
