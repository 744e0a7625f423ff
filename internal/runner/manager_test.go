package runner

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
	"trade_sim/internal/models"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/simulator"
	"trade_sim/pkg/logger"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// stubSource отдаёт заранее заданный тик для каждого интервала
// и считает обращения.
type stubSource struct {
	mu    sync.Mutex
	ticks map[string]*models.Tick
	calls map[string]int
}

func newStubSource() *stubSource {
	return &stubSource{
		ticks: make(map[string]*models.Tick),
		calls: make(map[string]int),
	}
}

func (s *stubSource) set(interval string, tick *models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[interval] = tick
}

func (s *stubSource) Fetch(_ context.Context, interval string) (*models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[interval]++
	tick, ok := s.ticks[interval]
	if !ok {
		return nil, errors.New("no tick")
	}
	return tick, nil
}

func (s *stubSource) fetchCount(interval string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[interval]
}

type nopSink struct{}

func (nopSink) Save(context.Context, []models.TradeRecord, map[string]string, string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Send(string)          {}
func (nopNotifier) Sendf(string, ...any) {}

func fastConfig() *config.Config {
	return &config.Config{
		PollIntervals: map[string]time.Duration{
			"1m": 5 * time.Millisecond,
			"1h": 5 * time.Millisecond,
		},
	}
}

func predTick(interval string, price, changePct float64) *models.Tick {
	return &models.Tick{
		Timestamp:   "t",
		ActualPrice: price,
		Predictions: map[string]models.Prediction{
			interval: {Price: price * (1 + changePct/100), ChangePct: changePct, ForecastTime: "t"},
		},
	}
}

func testParams(interval string) models.SessionParams {
	return models.SessionParams{
		Interval:       interval,
		StartBalance:   1000,
		EntryThreshold: 0.03,
		ExitThreshold:  0.03,
		FeePct:         0.075,
		StopLossPct:    1.5,
	}
}

func TestStartAndStopSimulation(t *testing.T) {
	ctx := context.Background()
	src := newStubSource()
	src.set("1m", predTick("1m", 100, 0.0)) // нейтральный прогноз, сделок нет

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)
	id, err := m.StartSimulation(ctx, testParams("1m"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)
	assert.True(t, list[0].Running)
	assert.Equal(t, 1000.0, list[0].Balance)

	// воркер крутится
	require.Eventually(t, func() bool {
		return src.fetchCount("1m") >= 2
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, m.StopSimulation(ctx, "1m", id))
	assert.Empty(t, m.ListSessions())

	// воркер замечает остановку не позже чем через цикл
	stopped := src.fetchCount("1m")
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, src.fetchCount("1m"), stopped+1)
}

func TestStopUnknownSession(t *testing.T) {
	m := NewManager(context.Background(), fastConfig(), newStubSource(), nopSink{}, nopNotifier{}, nil)

	err := m.StopSimulation(context.Background(), "1m", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	err = m.PauseSimulation("1m", "nope", true)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionIDCarriesInterval(t *testing.T) {
	ctx := context.Background()
	src := newStubSource()
	src.set("1h", predTick("1h", 100, 0.0))

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)
	id, err := m.StartSimulation(ctx, testParams("1h"))
	require.NoError(t, err)
	defer func() { _ = m.StopSimulation(ctx, "1h", id) }()

	assert.Regexp(t, `^1h_\d{8}_\d{6}_[0-9a-f]{4}$`, id)
}

func TestPausedSessionTakesNoSignals(t *testing.T) {
	ctx := context.Background()
	src := newStubSource()
	src.set("1m", predTick("1m", 100, 0.0))

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)
	id, err := m.StartSimulation(ctx, testParams("1m"))
	require.NoError(t, err)
	defer func() { _ = m.StopSimulation(ctx, "1m", id) }()

	require.NoError(t, m.PauseSimulation("1m", id, true))

	// сильный сигнал на вход, но сессия на паузе
	src.set("1m", predTick("1m", 100, 5.0))
	before := src.fetchCount("1m")
	require.Eventually(t, func() bool {
		return src.fetchCount("1m") >= before+3
	}, time.Second, 2*time.Millisecond)

	sim, ok := m.GetSimulator("1m", id)
	require.True(t, ok)
	assert.Zero(t, sim.Position(), "paused session must not trade")

	// после снятия паузы сигнал отрабатывает
	require.NoError(t, m.PauseSimulation("1m", id, false))
	require.Eventually(t, func() bool {
		return sim.Position() > 0
	}, time.Second, 2*time.Millisecond)
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	src := newStubSource()
	src.set("1m", predTick("1m", 100, 5.0)) // сразу входит
	src.set("1h", predTick("1h", 100, 0.0)) // сидит в кэше

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)
	idM, err := m.StartSimulation(ctx, testParams("1m"))
	require.NoError(t, err)
	idH, err := m.StartSimulation(ctx, testParams("1h"))
	require.NoError(t, err)

	simM, ok := m.GetSimulator("1m", idM)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return simM.Position() > 0
	}, time.Second, 2*time.Millisecond)

	simH, ok := m.GetSimulator("1h", idH)
	require.True(t, ok)
	assert.Zero(t, simH.Position())
	assert.Equal(t, 1000.0, simH.Balance())

	// остановка одной сессии не трогает вторую
	require.NoError(t, m.StopSimulation(ctx, "1m", idM))
	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, idH, list[0].SessionID)

	m.StopAll(ctx)
	assert.Empty(t, m.ListSessions())
}

func TestWorkerOutlivesStartContext(t *testing.T) {
	src := newStubSource()
	src.set("1m", predTick("1m", 100, 0.0))

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)

	// контекст вызывающего гаснет сразу после старта — как у HTTP-запроса
	reqCtx, cancel := context.WithCancel(context.Background())
	id, err := m.StartSimulation(reqCtx, testParams("1m"))
	require.NoError(t, err)
	cancel()
	defer func() { _ = m.StopSimulation(context.Background(), "1m", id) }()

	before := src.fetchCount("1m")
	require.Eventually(t, func() bool {
		return src.fetchCount("1m") >= before+3
	}, time.Second, 2*time.Millisecond, "worker must keep polling after the caller's context dies")

	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.True(t, list[0].Running)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ctx, fastConfig(), newStubSource(), nopSink{}, nopNotifier{}, nil)

	sim := simulator.New(ctx, "dup", "2026-01-01 00:00:00", testParams("1m"), nopSink{}, nopNotifier{})
	require.NoError(t, m.register("1m", "dup", &entry{sim: sim, running: true}))

	other := simulator.New(ctx, "dup", "2026-01-01 00:00:01", testParams("1m"), nopSink{}, nopNotifier{})
	err := m.register("1m", "dup", &entry{sim: other, running: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionExists)

	// чужая запись на месте
	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, "2026-01-01 00:00:00", list[0].StartTime)
}

func TestSnapshotMissingSession(t *testing.T) {
	m := NewManager(context.Background(), fastConfig(), newStubSource(), nopSink{}, nopNotifier{}, nil)
	_, ok := m.Snapshot("1m", "nope")
	assert.False(t, ok)
}

func TestFetchErrorsDoNotKillWorker(t *testing.T) {
	ctx := context.Background()
	src := newStubSource() // тиков нет — каждый Fetch падает

	m := NewManager(context.Background(), fastConfig(), src, nopSink{}, nopNotifier{}, nil)
	id, err := m.StartSimulation(ctx, testParams("1m"))
	require.NoError(t, err)
	defer func() { _ = m.StopSimulation(ctx, "1m", id) }()

	require.Eventually(t, func() bool {
		return src.fetchCount("1m") >= 3
	}, time.Second, 2*time.Millisecond)

	// сессия живее всех живых
	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.True(t, list[0].Running)

	// и после появления данных воркер продолжает работать
	src.set("1m", predTick("1m", 100, 5.0))
	sim, ok := m.GetSimulator("1m", id)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sim.Position() > 0
	}, time.Second, 2*time.Millisecond)
}
