package models

import "github.com/pkg/errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// SessionParams — параметры сессии, снимок конфига на момент старта.
// После создания сессии не меняются (никакого live-reload внутрь симулятора).
type SessionParams struct {
	Interval         string  `json:"interval"`
	StartBalance     float64 `json:"start_balance"`
	EntryThreshold   float64 `json:"entry_threshold"` // %
	ExitThreshold    float64 `json:"exit_threshold"`  // %
	FeePct           float64 `json:"fee_pct"`
	MAEStopEnabled   bool    `json:"mae_stop_enabled"`
	MAEStopThreshold float64 `json:"mae_stop_threshold"`
	StopLossPct      float64 `json:"stop_loss_pct"` // дистанция до SL от цены входа, напр. 1.5 => 1.5%
}

// SessionSummary — строка для list_sessions: идентификация + живые показатели.
type SessionSummary struct {
	Interval         string   `json:"interval"`
	SessionID        string   `json:"session_id"`
	Balance          float64  `json:"balance"`
	BTC              float64  `json:"btc"`
	Profit           float64  `json:"profit"`
	Accuracy         float64  `json:"accuracy"`
	Running          bool     `json:"running"`
	Paused           bool     `json:"paused"`
	AutoPaused       bool     `json:"auto_paused"`
	StartTime        string   `json:"start_time"`
	EntryThreshold   float64  `json:"entry_threshold"`
	ExitThreshold    float64  `json:"exit_threshold"`
	FeePct           float64  `json:"fee_pct"`
	MAEStopEnabled   bool     `json:"mae_stop_enabled"`
	MAEStopThreshold float64  `json:"mae_stop_threshold"`
	StopLossPct      float64  `json:"stop_loss_pct"`
	LastMAE          *float64 `json:"last_mae,omitempty"`
}

// SessionSnapshot — полный read-only снимок сессии для дашборда.
type SessionSnapshot struct {
	SessionSummary
	EntryPrice     float64       `json:"entry_price"`
	StopLossPrice  *float64      `json:"stop_loss_price,omitempty"`
	TradeLog       []TradeRecord `json:"trade_log"`
	BalanceSeries  []Sample      `json:"balance_series"`
	ProfitSeries   []Sample      `json:"profit_series"`
	AccuracySeries []Sample      `json:"accuracy_series"`
	MAESeries      []Sample      `json:"mae_series"`
}
