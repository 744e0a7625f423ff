package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"trade_sim/internal/models"

	"github.com/pkg/errors"
)

var csvHeader = []string{
	"timestamp", "type", "price", "amount", "fee", "balance", "profit",
	"actual_price", "predicted_price", "predicted_change_pct", "reason",
	"prediction_accuracy", "mae_10min", "accuracy_pct",
}

// CSVSink пишет simulation_<session_id>.csv: метаданные комментариями
// `# key: value` (ключи отсортированы — повторный Save даёт байт-в-байт
// тот же файл), дальше шапка и строки лога. Эти файлы читает logs-дашборд.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create csv dir")
	}
	return &CSVSink{dir: dir}, nil
}

func (s *CSVSink) Save(ctx context.Context, tradeLog []models.TradeRecord, metadata map[string]string, dest string) error {
	path := filepath.Join(s.dir, fmt.Sprintf("simulation_%s.csv", dest))

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		_ = f.Close()
	}()

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "# %s: %s\n", k, metadata[k]); err != nil {
			return errors.Wrapf(err, "write metadata %s", path)
		}
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return errors.Wrapf(err, "write header %s", path)
	}
	for i := range tradeLog {
		if err := w.Write(csvRow(&tradeLog[i])); err != nil {
			return errors.Wrapf(err, "write row %s", path)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "flush %s", path)
}

func csvRow(r *models.TradeRecord) []string {
	return []string{
		r.Timestamp,
		r.Type,
		fmtFloat(r.Price),
		fmtFloat(r.Amount),
		fmtFloat(r.Fee),
		fmtFloat(r.Balance),
		fmtFloatPtr(r.Profit),
		fmtFloat(r.ActualPrice),
		fmtFloatPtr(r.PredictedPrice),
		fmtFloat(r.PredictedChangePct),
		r.Reason,
		fmtBoolPtr(r.PredictionAccuracy),
		fmtFloatPtr(r.MAE10Min),
		fmtFloat(r.AccuracyPct),
	}
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fmtFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

func fmtBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
