package domain

import (
	"sort"
	"time"
)

// PriceBar es un día de trading de datos OHLCV.
type PriceBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceSeries es el histórico de precios de un ticker, ordenado
// cronológicamente y sin huecos. Los loaders rellenan hacia adelante los días
// hábiles que faltan antes de que llegue al core, así los consumidores pueden
// indexar por fecha directamente.
type PriceSeries struct {
	Ticker string
	Bars   []PriceBar

	byDate map[time.Time]int
}

// NewPriceSeries ordena las barras cronológicamente y construye el índice
// por fecha. Las fechas se normalizan a medianoche UTC.
func NewPriceSeries(ticker string, bars []PriceBar) PriceSeries {
	sorted := make([]PriceBar, len(bars))
	copy(sorted, bars)
	for i := range sorted {
		sorted[i].Date = Day(sorted[i].Date)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	byDate := make(map[time.Time]int, len(sorted))
	for i, bar := range sorted {
		byDate[bar.Date] = i
	}

	return PriceSeries{Ticker: ticker, Bars: sorted, byDate: byDate}
}

// CloseOn devuelve el precio de cierre del día dado, si existe.
func (s PriceSeries) CloseOn(date time.Time) (float64, bool) {
	i, ok := s.byDate[Day(date)]
	if !ok {
		return 0, false
	}
	return s.Bars[i].Close, true
}

// Window devuelve hasta n barras terminando en date (inclusive). Si la fecha
// no es día de trading en la serie, la ventana termina en la última barra
// anterior.
func (s PriceSeries) Window(date time.Time, n int) []PriceBar {
	day := Day(date)
	end, ok := s.byDate[day]
	if !ok {
		end = sort.Search(len(s.Bars), func(i int) bool {
			return s.Bars[i].Date.After(day)
		}) - 1
	}
	if end < 0 {
		return nil
	}
	start := end - n + 1
	if start < 0 {
		start = 0
	}
	return s.Bars[start : end+1]
}

// Dates devuelve todos los días de trading de la serie, ascendentes.
func (s PriceSeries) Dates() []time.Time {
	dates := make([]time.Time, len(s.Bars))
	for i, bar := range s.Bars {
		dates[i] = bar.Date
	}
	return dates
}

// Day trunca un timestamp a medianoche UTC, la clave canónica de día de
// trading.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
