package runner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"trade_sim/internal/feed"
	"trade_sim/internal/models"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/modules/health/service"
	"trade_sim/internal/notify"
	"trade_sim/internal/simulator"
	"trade_sim/internal/storage"
	"trade_sim/pkg/logger"

	"github.com/pkg/errors"
)

// entry — одна запись реестра. Флаги running/paused меняются только
// под мьютексом менеджера; sim мутирует только воркер этой сессии.
type entry struct {
	sim     *simulator.TradeSimulator
	cancel  context.CancelFunc
	running bool
	paused  bool
}

// Manager — общепроцессный реестр сессий: interval -> session_id -> entry.
// Один грубый мьютекс на весь реестр; под ним никакого I/O.
// Конструируется явно и передаётся потребителям — никаких синглтонов.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]map[string]*entry

	baseCtx context.Context

	cfg    *config.Config
	source feed.Source
	sink   storage.Sink
	n      notify.Notifier
	state  *service.State
}

// NewManager. baseCtx — контекст процесса: на нём живут воркеры,
// чтобы их жизнь не зависела от контекста вызова Start.
func NewManager(baseCtx context.Context, cfg *config.Config, source feed.Source, sink storage.Sink, n notify.Notifier, state *service.State) *Manager {
	return &Manager{
		sessions: make(map[string]map[string]*entry),
		baseCtx:  baseCtx,
		cfg:      cfg,
		source:   source,
		sink:     sink,
		n:        n,
		state:    state,
	}
}

// StartSimulation создаёт сессию, регистрирует её и запускает воркер.
// Возвращается сразу; воркер живёт своей жизнью до Stop. Контекст
// вызывающего используется только для синхронной части (первый слив
// в синк) — HTTP-запрос гаснет сразу после ответа, воркера это
// касаться не должно.
func (m *Manager) StartSimulation(ctx context.Context, params models.SessionParams) (string, error) {
	now := time.Now()
	sessionID := fmt.Sprintf("%s_%s_%04x", params.Interval, now.Format("20060102_150405"), rand.IntN(0x10000))
	startTime := now.Format("2006-01-02 15:04:05")

	sim := simulator.New(ctx, sessionID, startTime, params, m.sink, m.n)

	wctx, cancel := context.WithCancel(m.baseCtx)

	if err := m.register(params.Interval, sessionID, &entry{
		sim:     sim,
		cancel:  cancel,
		running: true,
	}); err != nil {
		cancel()
		return "", err
	}

	go m.runLoop(wctx, sim, params.Interval, sessionID)

	if m.state != nil {
		m.state.AddSession(1)
	}
	logger.Info("session %s started (interval %s, poll %s)", sessionID, params.Interval, m.cfg.PollInterval(params.Interval))
	m.n.Sendf("▶️ Сессия %s запущена (интервал %s)", sessionID, params.Interval)

	return sessionID, nil
}

// register — единственная точка добавления в реестр. Занятый id —
// ошибка вызывающему, а не тихая перезапись чужой сессии.
func (m *Manager) register(interval, sessionID string, e *entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(interval, sessionID); ok {
		return errors.Wrapf(models.ErrSessionExists, "%s/%s", interval, sessionID)
	}
	if _, ok := m.sessions[interval]; !ok {
		m.sessions[interval] = make(map[string]*entry)
	}
	m.sessions[interval][sessionID] = e
	return nil
}

// StopSimulation гасит сессию: флаг, отмена контекста, финальный слив,
// удаление из реестра. Воркер заметит остановку максимум через один
// цикл опроса.
func (m *Manager) StopSimulation(ctx context.Context, interval, sessionID string) error {
	m.mu.Lock()
	e, ok := m.lookup(interval, sessionID)
	if !ok {
		m.mu.Unlock()
		logger.Warn("stop: session %s not found in %s", sessionID, interval)
		return errors.Wrapf(models.ErrSessionNotFound, "%s/%s", interval, sessionID)
	}
	e.running = false
	delete(m.sessions[interval], sessionID)
	if len(m.sessions[interval]) == 0 {
		delete(m.sessions, interval)
	}
	m.mu.Unlock()

	// слив и отмена уже вне мьютекса
	e.cancel()
	e.sim.SaveSession(ctx)

	if m.state != nil {
		m.state.AddSession(-1)
	}
	logger.Info("session %s stopped, flushed to sink", sessionID)
	m.n.Sendf("⏹ Сессия %s остановлена | %s", sessionID, e.sim.Dump())
	return nil
}

// PauseSimulation переключает паузу. Пауза с открытой позицией ставит
// защитный стоп (сигналов больше нет, но риск караулим); снятие паузы
// убирает стоп и авто-паузу.
func (m *Manager) PauseSimulation(interval, sessionID string, pause bool) error {
	m.mu.Lock()
	e, ok := m.lookup(interval, sessionID)
	if !ok {
		m.mu.Unlock()
		logger.Warn("pause: session %s not found in %s", sessionID, interval)
		return errors.Wrapf(models.ErrSessionNotFound, "%s/%s", interval, sessionID)
	}
	e.paused = pause
	sim := e.sim
	m.mu.Unlock()

	if pause {
		sim.SetStopLoss()
		logger.Info("session %s paused", sessionID)
	} else {
		sim.ClearStopLoss()
		sim.ClearAutoPause()
		logger.Info("session %s resumed", sessionID)
	}
	return nil
}

// GetSimulator — read-only доступ для дашбордов. Отсутствие сессии —
// это "данных ещё нет", а не ошибка.
func (m *Manager) GetSimulator(interval, sessionID string) (*simulator.TradeSimulator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(interval, sessionID)
	if !ok {
		return nil, false
	}
	return e.sim, true
}

// Snapshot — полный снимок сессии вместе с флагами реестра.
func (m *Manager) Snapshot(interval, sessionID string) (models.SessionSnapshot, bool) {
	m.mu.Lock()
	e, ok := m.lookup(interval, sessionID)
	if !ok {
		m.mu.Unlock()
		return models.SessionSnapshot{}, false
	}
	sim, running, paused := e.sim, e.running, e.paused
	m.mu.Unlock()

	return sim.Snapshot(running, paused), true
}

// ListSessions — снимок всех сессий. Аксессоры симуляторов зовём уже
// после выхода из-под мьютекса реестра.
func (m *Manager) ListSessions() []models.SessionSummary {
	type item struct {
		sim             *simulator.TradeSimulator
		running, paused bool
	}

	m.mu.Lock()
	items := make([]item, 0, 8)
	for _, byID := range m.sessions {
		for _, e := range byID {
			items = append(items, item{sim: e.sim, running: e.running, paused: e.paused})
		}
	}
	m.mu.Unlock()

	out := make([]models.SessionSummary, 0, len(items))
	for _, it := range items {
		out = append(out, it.sim.Summary(it.running, it.paused))
	}
	return out
}

// StopAll — best-effort слив всех живых сессий при остановке процесса.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*entry, 0, 8)
	for interval, byID := range m.sessions {
		for id, e := range byID {
			e.running = false
			all = append(all, e)
			delete(byID, id)
		}
		delete(m.sessions, interval)
	}
	m.mu.Unlock()

	for _, e := range all {
		e.cancel()
		e.sim.SaveSession(ctx)
	}
	logger.Info("all sessions stopped (%d flushed)", len(all))
}

// без лока — только из-под m.mu
func (m *Manager) lookup(interval, sessionID string) (*entry, bool) {
	byID, ok := m.sessions[interval]
	if !ok {
		return nil, false
	}
	e, ok := byID[sessionID]
	return e, ok
}

// status читается воркером на каждом цикле.
func (m *Manager) status(interval, sessionID string) (running, paused, exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(interval, sessionID)
	if !ok {
		return false, false, false
	}
	return e.running, e.paused, true
}
