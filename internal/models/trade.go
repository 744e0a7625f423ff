package models

const (
	TradeBuy  = "BUY"
	TradeSell = "SELL"
)

// TradeRecord — одна запись торгового лога.
// У BUY-записи Profit и остаётся nil, пока раунд-трип не закрыт парным SELL:
// это видимая "открытая позиция". Profit дозаполняется ровно один раз.
type TradeRecord struct {
	Timestamp          string   `json:"timestamp"`
	Type               string   `json:"type"` // BUY / SELL
	Price              float64  `json:"price"`
	Amount             float64  `json:"amount"`
	Fee                float64  `json:"fee"`
	Balance            float64  `json:"balance"`
	Profit             *float64 `json:"profit,omitempty"`
	ActualPrice        float64  `json:"actual_price"`
	PredictedPrice     *float64 `json:"predicted_price,omitempty"` // nil для stop-loss выходов
	PredictedChangePct float64  `json:"predicted_change_pct"`
	Reason             string   `json:"reason"`
	PredictionAccuracy *bool    `json:"prediction_accuracy,omitempty"`
	MAE10Min           *float64 `json:"mae_10min,omitempty"`
	AccuracyPct        float64  `json:"accuracy_pct"`
}
