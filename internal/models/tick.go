package models

// Prediction — прогноз модели для одного интервала.
type Prediction struct {
	Price        float64 `json:"price"`
	ChangePct    float64 `json:"change_pct"`
	ForecastTime string  `json:"forecast_time"`
}

// Tick — одна строка апстрим-таблицы: фактическая цена + прогнозы по интервалам.
// MAE10Min может отсутствовать (старые строки без колонки mae_10min).
type Tick struct {
	Timestamp   string                `json:"timestamp"`
	ActualPrice float64               `json:"actual_price"`
	Predictions map[string]Prediction `json:"predictions"`
	MAE10Min    *float64              `json:"mae_10min,omitempty"`
}

// Sample — точка временного ряда для внешних графиков.
type Sample struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}
