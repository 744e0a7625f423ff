package feed

import (
	"strconv"
	"strings"
	"trade_sim/internal/models"

	"golang.org/x/net/html"
)

// Формат апстрим-таблицы: шапка с колонками
//
//	timestamp | actual_price | price_<iv> | chg_<iv> | time_<iv> ... | mae_10min
//
// где <iv> — метка интервала ("5s", "1m", "1h"). Берём последнюю строку данных.
// Колонки матчим по именам из шапки, а не по позициям — апстрим
// периодически добавляет интервалы.
func ParseTick(page []byte) (*models.Tick, error) {
	rows := tableRows(page)
	if len(rows) < 2 {
		return nil, ErrNoTick
	}

	header := rows[0]
	last := rows[len(rows)-1]
	if len(last) != len(header) {
		// апстрим иногда отдаёт недописанную последнюю строку — берём предыдущую
		for i := len(rows) - 2; i >= 1; i-- {
			if len(rows[i]) == len(header) {
				last = rows[i]
				break
			}
		}
		if len(last) != len(header) {
			return nil, ErrNoTick
		}
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	tick := &models.Tick{
		Predictions: make(map[string]models.Prediction),
	}

	i, ok := col["timestamp"]
	if !ok {
		return nil, ErrNoTick
	}
	tick.Timestamp = strings.TrimSpace(last[i])

	i, ok = col["actual_price"]
	if !ok {
		return nil, ErrNoTick
	}
	price, err := parseFloat(last[i])
	if err != nil || price <= 0 {
		return nil, ErrNoTick
	}
	tick.ActualPrice = price

	for name, pi := range col {
		iv, found := strings.CutPrefix(name, "price_")
		if !found {
			continue
		}
		ci, okC := col["chg_"+iv]
		ti, okT := col["time_"+iv]
		if !okC || !okT {
			continue
		}

		pp, err1 := parseFloat(last[pi])
		cp, err2 := parseFloat(last[ci])
		if err1 != nil || err2 != nil {
			continue // прогноза на эту строку нет — не валим весь тик
		}
		tick.Predictions[iv] = models.Prediction{
			Price:        pp,
			ChangePct:    cp,
			ForecastTime: strings.TrimSpace(last[ti]),
		}
	}

	if i, ok = col["mae_10min"]; ok {
		if mae, err := parseFloat(last[i]); err == nil && mae >= 0 {
			tick.MAE10Min = &mae
		}
	}

	return tick, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

// tableRows вытаскивает ячейки первой <table> постранично: [row][cell].
func tableRows(page []byte) [][]string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil
	}

	table := findNode(doc, "table")
	if table == nil {
		return nil
	}

	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, nodeText(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func findNode(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
