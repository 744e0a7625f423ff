package simulator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"trade_sim/internal/models"
	"trade_sim/internal/notify"
	"trade_sim/internal/storage"
	"trade_sim/pkg/logger"
)

// TradeSimulator — конечный автомат одной сессии: FLAT (balance > 0, btc == 0)
// либо LONG (balance == 0, btc > 0), плюс ортогональный флаг autoPaused.
// Всегда либо полностью в кэше, либо полностью в активе, частичных позиций нет.
//
// Пишет в симулятор ровно один воркер; дашборды ходят только через
// read-only аксессоры, поэтому внутреннего мьютекса достаточно.
type TradeSimulator struct {
	mu sync.Mutex

	sessionID string
	startTime string
	params    models.SessionParams

	balance    float64
	position   float64 // btc
	entryPrice float64
	costBasis  float64 // чистая стоимость входа (после комиссии), для расчёта профита

	stopLossPrice float64
	stopLossSet   bool
	autoPaused    bool

	lastMAE *float64

	correctPredictions int
	totalPredictions   int

	tradeLog       []models.TradeRecord
	balanceSeries  []models.Sample
	profitSeries   []models.Sample
	accuracySeries []models.Sample
	maeSeries      []models.Sample

	lastTick *models.Tick

	sink storage.Sink
	n    notify.Notifier
}

// New создаёт сессию и сразу сливает пустой лог с метаданными —
// файл сессии существует с момента старта, не с первой сделки.
func New(ctx context.Context, sessionID, startTime string, params models.SessionParams, sink storage.Sink, n notify.Notifier) *TradeSimulator {
	s := &TradeSimulator{
		sessionID: sessionID,
		startTime: startTime,
		params:    params,
		balance:   params.StartBalance,
		sink:      sink,
		n:         n,
	}
	s.mu.Lock()
	s.persist(ctx)
	s.mu.Unlock()
	return s
}

// ProcessTick — один тик, строго в порядке: MAE-замер, стоп-лосс,
// авто-пауза, MAE-стоп, сигнальная логика. Вызывается максимум раз на тик.
func (s *TradeSimulator) ProcessTick(ctx context.Context, tick *models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordMAE(tick)

	// 1. Риск-контроль всегда первым, даже на паузе
	if s.monitorStopLoss(ctx, tick) {
		return
	}

	// 2. Авто-пауза подвешивает сигналы, но не мониторинг выше
	if s.autoPaused {
		return
	}

	// 3. MAE-стоп: прогнозы разъехались с рынком — замираем и страхуемся стопом
	if s.params.MAEStopEnabled && s.lastMAE != nil && *s.lastMAE > s.params.MAEStopThreshold {
		s.autoPaused = true
		if s.position > 0 {
			s.armStopLoss()
		}
		logger.Warn("session %s: MAE %.4f > %.4f, auto-paused", s.sessionID, *s.lastMAE, s.params.MAEStopThreshold)
		s.n.Sendf("⏸ [%s] MAE %.4f превысил порог %.4f — авто-пауза", s.sessionID, *s.lastMAE, s.params.MAEStopThreshold)
		return
	}

	pred, ok := tick.Predictions[s.params.Interval]
	if !ok {
		logger.Warn("session %s: tick without prediction for %s, skipped", s.sessionID, s.params.Interval)
		return
	}

	if s.position == 0 {
		// FLAT: входим, когда прогноз обещает не меньше порога
		if pred.ChangePct >= s.params.EntryThreshold {
			s.buy(ctx, tick, pred)
		}
	} else {
		// LONG: выходим по достигнутому профиту либо по развороту прогноза
		currentChangePct := (tick.ActualPrice - s.entryPrice) / s.entryPrice * 100
		if currentChangePct >= s.params.ExitThreshold {
			s.sell(ctx, tick.Timestamp, tick.ActualPrice, &pred, "take profit")
		} else if pred.ChangePct <= -s.params.ExitThreshold {
			s.sell(ctx, tick.Timestamp, tick.ActualPrice, &pred, "forecast flip")
		}
	}

	s.lastTick = tick
}

// MonitorStopLoss — урезанный путь для сессий на паузе: только MAE-замер
// и защитный стоп, никакой сигнальной логики.
func (s *TradeSimulator) MonitorStopLoss(ctx context.Context, tick *models.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordMAE(tick)
	return s.monitorStopLoss(ctx, tick)
}

func (s *TradeSimulator) recordMAE(tick *models.Tick) {
	if tick.MAE10Min == nil {
		return
	}
	mae := *tick.MAE10Min
	s.lastMAE = &mae
	s.maeSeries = append(s.maeSeries, models.Sample{Timestamp: tick.Timestamp, Value: mae})
}

func (s *TradeSimulator) monitorStopLoss(ctx context.Context, tick *models.Tick) bool {
	if s.position <= 0 || !s.stopLossSet || tick.ActualPrice > s.stopLossPrice {
		return false
	}
	// принудительный выход по цене стопа, прогнозов не ждём
	price := s.stopLossPrice
	s.sell(ctx, tick.Timestamp, price, nil, "stop-loss")
	return true
}

func (s *TradeSimulator) buy(ctx context.Context, tick *models.Tick, pred models.Prediction) {
	if s.balance <= 0 {
		logger.Warn("session %s: BUY with zero balance, skipped", s.sessionID)
		return
	}

	fee := s.balance * s.params.FeePct / 100
	amount := (s.balance - fee) / tick.ActualPrice

	s.costBasis = s.balance - fee
	s.position = amount
	s.entryPrice = tick.ActualPrice
	s.balance = 0

	// ретроспективно оцениваем прогноз предыдущего тика по цене исполнения
	accuracy := s.scoreLastPrediction(tick.ActualPrice)

	predPrice := pred.Price
	rec := models.TradeRecord{
		Timestamp:          tick.Timestamp,
		Type:               models.TradeBuy,
		Price:              tick.ActualPrice,
		Amount:             amount,
		Fee:                fee,
		Balance:            s.balance,
		ActualPrice:        tick.ActualPrice,
		PredictedPrice:     &predPrice,
		PredictedChangePct: pred.ChangePct,
		Reason:             "entry signal",
		PredictionAccuracy: accuracy,
		MAE10Min:           s.lastMAE,
		AccuracyPct:        s.predictionAccuracy(),
	}
	s.tradeLog = append(s.tradeLog, rec)
	s.balanceSeries = append(s.balanceSeries, models.Sample{Timestamp: tick.Timestamp, Value: s.balance})
	s.accuracySeries = append(s.accuracySeries, models.Sample{Timestamp: tick.Timestamp, Value: rec.AccuracyPct})

	logger.Info("session %s: BUY %.8f @ %.2f (fee %.4f)", s.sessionID, amount, tick.ActualPrice, fee)
	s.n.Sendf("🟢 [%s] BUY %.6f @ %.2f | прогноз %+.4f%%", s.sessionID, amount, tick.ActualPrice, pred.ChangePct)

	s.persist(ctx)
}

func (s *TradeSimulator) sell(ctx context.Context, timestamp string, price float64, pred *models.Prediction, reason string) {
	if s.position <= 0 {
		logger.Warn("session %s: SELL without position, skipped", s.sessionID)
		return
	}

	proceeds := s.position * price
	fee := proceeds * s.params.FeePct / 100
	profit := (proceeds - fee) - s.costBasis
	amount := s.position

	s.balance = proceeds - fee

	accuracy := s.scoreLastPrediction(price)

	var predPrice *float64
	var predChange float64
	if pred != nil {
		p := pred.Price
		predPrice = &p
		predChange = pred.ChangePct
	}

	rec := models.TradeRecord{
		Timestamp:          timestamp,
		Type:               models.TradeSell,
		Price:              price,
		Amount:             amount,
		Fee:                fee,
		Balance:            s.balance,
		Profit:             &profit,
		ActualPrice:        price,
		PredictedPrice:     predPrice,
		PredictedChangePct: predChange,
		Reason:             reason,
		PredictionAccuracy: accuracy,
		MAE10Min:           s.lastMAE,
		AccuracyPct:        s.predictionAccuracy(),
	}

	// дозаполняем профит открытой BUY-записи — единственная мутация лога
	for i := len(s.tradeLog) - 1; i >= 0; i-- {
		if s.tradeLog[i].Type == models.TradeBuy && s.tradeLog[i].Profit == nil {
			p := profit
			s.tradeLog[i].Profit = &p
			break
		}
	}

	s.tradeLog = append(s.tradeLog, rec)
	s.balanceSeries = append(s.balanceSeries, models.Sample{Timestamp: timestamp, Value: s.balance})
	s.profitSeries = append(s.profitSeries, models.Sample{Timestamp: timestamp, Value: s.totalProfit()})
	s.accuracySeries = append(s.accuracySeries, models.Sample{Timestamp: timestamp, Value: rec.AccuracyPct})

	s.position = 0
	s.entryPrice = 0
	s.costBasis = 0
	s.stopLossSet = false
	s.stopLossPrice = 0

	logger.Info("session %s: SELL %.8f @ %.2f profit %.4f (%s)", s.sessionID, amount, price, profit, reason)
	s.n.Sendf("🔴 [%s] SELL %.6f @ %.2f | профит %+.4f | %s", s.sessionID, amount, price, profit, reason)

	s.persist(ctx)
}

// scoreLastPrediction сравнивает знак прогноза предыдущего тика со знаком
// фактического движения к цене исполнения. Нулевой знак прогноза в
// статистику не попадает.
func (s *TradeSimulator) scoreLastPrediction(fillPrice float64) *bool {
	if s.lastTick == nil {
		return nil
	}
	pred, ok := s.lastTick.Predictions[s.params.Interval]
	if !ok || s.lastTick.ActualPrice <= 0 {
		return nil
	}

	actualChangePct := (fillPrice - s.lastTick.ActualPrice) / s.lastTick.ActualPrice * 100
	predSign := sign(pred.ChangePct)
	if predSign == 0 {
		// нулевой прогноз не оценить — в статистику не попадает
		return nil
	}

	correct := predSign == sign(actualChangePct)
	s.totalPredictions++
	if correct {
		s.correctPredictions++
	}
	return &correct
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// SetStopLoss ставит защитный стоп на StopLossPct ниже цены входа.
// Имеет смысл только в LONG.
func (s *TradeSimulator) SetStopLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armStopLoss()
}

func (s *TradeSimulator) armStopLoss() {
	if s.position <= 0 {
		return
	}
	s.stopLossPrice = s.entryPrice * (1 - s.params.StopLossPct/100)
	s.stopLossSet = true
	logger.Info("session %s: stop-loss armed @ %.2f", s.sessionID, s.stopLossPrice)
}

func (s *TradeSimulator) ClearStopLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLossSet = false
	s.stopLossPrice = 0
}

// ClearAutoPause — ручное снятие авто-паузы (через команду pause=false).
func (s *TradeSimulator) ClearAutoPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPaused = false
}

// SaveSession — полный слив состояния в синк. Ошибки логируются и глотаются:
// живая сессия важнее диска, следующее событие повторит полную перезапись.
func (s *TradeSimulator) SaveSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(ctx)
}

func (s *TradeSimulator) persist(ctx context.Context) {
	if s.sink == nil {
		return
	}
	logCopy := make([]models.TradeRecord, len(s.tradeLog))
	copy(logCopy, s.tradeLog)
	if err := s.sink.Save(ctx, logCopy, s.metadata(), s.sessionID); err != nil {
		logger.Error("session %s: persist failed: %v", s.sessionID, err)
	}
}

func (s *TradeSimulator) metadata() map[string]string {
	return map[string]string{
		"session_id":         s.sessionID,
		"interval":           s.params.Interval,
		"start_time":         s.startTime,
		"start_balance":      fmtF(s.params.StartBalance),
		"entry_threshold":    fmtF(s.params.EntryThreshold),
		"exit_threshold":     fmtF(s.params.ExitThreshold),
		"fee_pct":            fmtF(s.params.FeePct),
		"mae_stop_enabled":   strconv.FormatBool(s.params.MAEStopEnabled),
		"mae_stop_threshold": fmtF(s.params.MAEStopThreshold),
		"stop_loss_pct":      fmtF(s.params.StopLossPct),
		"balance":            fmtF(s.balance),
		"btc":                fmtF(s.position),
		"profit":             fmtF(s.totalProfit()),
		"accuracy":           fmtF(s.predictionAccuracy()),
	}
}

func fmtF(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *TradeSimulator) totalProfit() float64 {
	var total float64
	for i := range s.tradeLog {
		if s.tradeLog[i].Type == models.TradeSell && s.tradeLog[i].Profit != nil {
			total += *s.tradeLog[i].Profit
		}
	}
	return total
}

func (s *TradeSimulator) predictionAccuracy() float64 {
	if s.totalPredictions == 0 {
		return 0
	}
	return float64(s.correctPredictions) / float64(s.totalPredictions) * 100
}

// ---- read-only аксессоры (для дашбордов и менеджера) ----

func (s *TradeSimulator) SessionID() string { return s.sessionID }
func (s *TradeSimulator) StartTime() string { return s.startTime }

func (s *TradeSimulator) Interval() string { return s.params.Interval }

func (s *TradeSimulator) Params() models.SessionParams { return s.params }

func (s *TradeSimulator) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *TradeSimulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *TradeSimulator) EntryPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryPrice
}

func (s *TradeSimulator) TotalProfit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalProfit()
}

func (s *TradeSimulator) PredictionAccuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictionAccuracy()
}

func (s *TradeSimulator) AutoPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoPaused
}

func (s *TradeSimulator) LastMAE() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastMAE == nil {
		return nil
	}
	mae := *s.lastMAE
	return &mae
}

func (s *TradeSimulator) StopLossPrice() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopLossSet {
		return nil
	}
	p := s.stopLossPrice
	return &p
}

func (s *TradeSimulator) TradeLog() []models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TradeRecord, len(s.tradeLog))
	copy(out, s.tradeLog)
	return out
}

func (s *TradeSimulator) BalanceSeries() []models.Sample  { return s.copySeries(&s.balanceSeries) }
func (s *TradeSimulator) ProfitSeries() []models.Sample   { return s.copySeries(&s.profitSeries) }
func (s *TradeSimulator) AccuracySeries() []models.Sample { return s.copySeries(&s.accuracySeries) }
func (s *TradeSimulator) MAESeries() []models.Sample      { return s.copySeries(&s.maeSeries) }

func (s *TradeSimulator) copySeries(src *[]models.Sample) []models.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Sample, len(*src))
	copy(out, *src)
	return out
}

// Summary — строка для list_sessions. Флаги running/paused живут
// в реестре менеджера, сюда передаются снаружи.
func (s *TradeSimulator) Summary(running, paused bool) models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		Interval:         s.params.Interval,
		SessionID:        s.sessionID,
		Balance:          s.balance,
		BTC:              s.position,
		Profit:           s.totalProfit(),
		Accuracy:         s.predictionAccuracy(),
		Running:          running,
		Paused:           paused,
		AutoPaused:       s.autoPaused,
		StartTime:        s.startTime,
		EntryThreshold:   s.params.EntryThreshold,
		ExitThreshold:    s.params.ExitThreshold,
		FeePct:           s.params.FeePct,
		MAEStopEnabled:   s.params.MAEStopEnabled,
		MAEStopThreshold: s.params.MAEStopThreshold,
		StopLossPct:      s.params.StopLossPct,
		LastMAE:          s.lastMAECopy(),
	}
}

func (s *TradeSimulator) Snapshot(running, paused bool) models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionSummary: s.Summary(running, paused),
		EntryPrice:     s.EntryPrice(),
		StopLossPrice:  s.StopLossPrice(),
		TradeLog:       s.TradeLog(),
		BalanceSeries:  s.BalanceSeries(),
		ProfitSeries:   s.ProfitSeries(),
		AccuracySeries: s.AccuracySeries(),
		MAESeries:      s.MAESeries(),
	}
	return snap
}

// без лока — только из-под Summary
func (s *TradeSimulator) lastMAECopy() *float64 {
	if s.lastMAE == nil {
		return nil
	}
	mae := *s.lastMAE
	return &mae
}

// Dump — короткая строка состояния для логов менеджера.
func (s *TradeSimulator) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "FLAT"
	if s.position > 0 {
		state = "LONG"
	}
	return fmt.Sprintf("%s balance=%.4f btc=%.8f profit=%.4f acc=%.2f%%",
		state, s.balance, s.position, s.totalProfit(), s.predictionAccuracy())
}
