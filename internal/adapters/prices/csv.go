package prices

// Loader de series OHLCV desde ficheros CSV, uno por ticker. El CSV puede
// traer las columnas en cualquier orden y con cualquier capitalización;
// basta con que existan date, open, high, low, close y volume. Los días
// hábiles que falten entre la primera y la última fecha se rellenan hacia
// adelante con la última barra conocida, así la serie llega al core sin
// huecos.

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// dateLayouts son los formatos de fecha aceptados, en orden de prueba.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

// Loader implementa ports.PriceProvider sobre un directorio de CSVs.
type Loader struct {
	dataDir string
}

// NewLoader crea el loader apuntando al directorio con los <ticker>.csv.
func NewLoader(dataDir string) *Loader {
	return &Loader{dataDir: dataDir}
}

// Load lee el CSV del ticker, descarta filas inválidas, ordena y rellena los
// días hábiles que falten. Loggea la cobertura resultante.
func (l *Loader) Load(_ context.Context, ticker string) (domain.PriceSeries, error) {
	path := filepath.Join(l.dataDir, ticker+".csv")

	f, err := os.Open(path)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("prices.Loader.Load: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("prices.Loader.Load: read %s: %w", path, err)
	}
	if len(records) < 2 {
		return domain.PriceSeries{}, fmt.Errorf("prices.Loader.Load: %s: no data rows", path)
	}

	columns, err := columnIndex(records[0])
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("prices.Loader.Load: %s: %w", path, err)
	}

	bars := make([]domain.PriceBar, 0, len(records)-1)
	skipped := 0
	for _, row := range records[1:] {
		bar, err := parseBar(row, columns)
		if err != nil {
			skipped++
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return domain.PriceSeries{}, fmt.Errorf("prices.Loader.Load: %s: no valid rows", path)
	}
	if skipped > 0 {
		slog.Warn("prices: skipped malformed rows", "ticker", ticker, "rows", skipped)
	}

	series := domain.NewPriceSeries(ticker, bars)
	filled := fillBusinessDays(&series)

	coverage := 1 - float64(filled)/float64(len(series.Bars))
	slog.Info("prices: loaded series",
		"ticker", ticker,
		"rows", len(series.Bars),
		"coverage", fmt.Sprintf("%.1f%%", coverage*100),
		"filled_days", filled)
	if filled > 0 {
		slog.Warn("prices: missing trading days forward filled", "ticker", ticker, "days", filled)
	}

	return series, nil
}

// columnIndex mapea cada columna requerida a su posición en la cabecera,
// sin distinguir mayúsculas.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func parseBar(row []string, columns map[string]int) (domain.PriceBar, error) {
	field := func(name string) (string, error) {
		i := columns[name]
		if i >= len(row) {
			return "", fmt.Errorf("row too short for column %s", name)
		}
		return strings.TrimSpace(row[i]), nil
	}

	rawDate, err := field("date")
	if err != nil {
		return domain.PriceBar{}, err
	}
	date, err := parseDate(rawDate)
	if err != nil {
		return domain.PriceBar{}, err
	}

	bar := domain.PriceBar{Date: date}
	for _, col := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	} {
		raw, err := field(col.name)
		if err != nil {
			return domain.PriceBar{}, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.PriceBar{}, fmt.Errorf("parse %s %q: %w", col.name, raw, err)
		}
		*col.dst = v
	}
	return bar, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return domain.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// fillBusinessDays inserta una copia de la última barra conocida por cada día
// hábil (lunes a viernes) ausente entre la primera y la última fecha.
// Devuelve cuántos días se rellenaron.
func fillBusinessDays(series *domain.PriceSeries) int {
	if len(series.Bars) < 2 {
		return 0
	}

	have := make(map[time.Time]bool, len(series.Bars))
	for _, bar := range series.Bars {
		have[bar.Date] = true
	}

	bars := series.Bars
	filled := 0
	last := bars[0]
	complete := make([]domain.PriceBar, 0, len(bars))
	next := 0

	end := bars[len(bars)-1].Date
	for day := bars[0].Date; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			if have[day] {
				// Barra en fin de semana: se conserva tal cual.
				complete = append(complete, bars[next])
				last = bars[next]
				next++
			}
			continue
		}
		if have[day] {
			complete = append(complete, bars[next])
			last = bars[next]
			next++
			continue
		}
		gap := last
		gap.Date = day
		complete = append(complete, gap)
		filled++
	}

	*series = domain.NewPriceSeries(series.Ticker, complete)
	return filled
}
