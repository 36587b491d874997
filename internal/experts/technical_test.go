package experts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// stubPrices sirve series fijas en memoria y cuenta las cargas para poder
// verificar la caché.
type stubPrices struct {
	series map[string]domain.PriceSeries
	loads  int
	err    error
}

func (s *stubPrices) Load(_ context.Context, ticker string) (domain.PriceSeries, error) {
	s.loads++
	if s.err != nil {
		return domain.PriceSeries{}, s.err
	}
	series, ok := s.series[ticker]
	if !ok {
		return domain.PriceSeries{}, errors.New("unknown ticker")
	}
	return series, nil
}

// seriesOf construye una serie de cierres consecutivos empezando el
// 2024-01-01, con volumen constante.
func seriesOf(ticker string, closes ...float64) domain.PriceSeries {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}
	return domain.NewPriceSeries(ticker, bars)
}

func lastDate(s domain.PriceSeries) time.Time {
	return s.Bars[len(s.Bars)-1].Date
}

func TestTechnicalCrossover(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		wantBuy  float64
		wantHold float64
		wantSell float64
	}{
		{
			name:     "bullish crossover",
			closes:   []float64{100, 100, 100, 100, 100, 100, 100, 90, 90, 130},
			wantBuy:  0.8,
			wantHold: 0.1,
			wantSell: 0.1,
		},
		{
			name:     "bearish crossover",
			closes:   []float64{100, 100, 100, 100, 100, 100, 100, 110, 110, 70},
			wantBuy:  0.1,
			wantHold: 0.1,
			wantSell: 0.8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := seriesOf("AAPL", tt.closes...)
			expert := NewTechnical(&stubPrices{series: map[string]domain.PriceSeries{"AAPL": series}})

			sig, err := expert.Evaluate(context.Background(), "AAPL", lastDate(series))
			require.NoError(t, err)

			require.InDelta(t, tt.wantBuy, sig.Probabilities.Buy, 1e-9)
			require.InDelta(t, tt.wantHold, sig.Probabilities.Hold, 1e-9)
			require.InDelta(t, tt.wantSell, sig.Probabilities.Sell, 1e-9)
			require.Equal(t, "ma_crossover", sig.Meta.Diagnostics["method"])
			require.Equal(t, "technical", sig.Meta.SourceType)
			require.Greater(t, sig.Confidence, 0.5)
		})
	}
}

func TestTechnicalNoCrossoverHolds(t *testing.T) {
	// Precio plano: ninguna regla de cruce dispara y el experto mantiene.
	series := seriesOf("AAPL", 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	expert := NewTechnical(&stubPrices{series: map[string]domain.PriceSeries{"AAPL": series}})

	sig, err := expert.Evaluate(context.Background(), "AAPL", lastDate(series))
	require.NoError(t, err)

	require.InDelta(t, 0.8, sig.Probabilities.Hold, 1e-9)
	require.InDelta(t, 0.7, sig.Confidence, 1e-9)
}

func TestTechnicalMomentum(t *testing.T) {
	// Con menos de longWindow+1 barras el cruce no aplica y decide el momentum.
	tests := []struct {
		name     string
		closes   []float64
		wantBuy  float64
		wantSell float64
		wantConf float64
	}{
		{
			name:     "strong upward momentum",
			closes:   []float64{100, 100, 100, 100, 104},
			wantBuy:  0.7,
			wantSell: 0.1,
			wantConf: 0.8,
		},
		{
			name:     "strong downward momentum",
			closes:   []float64{100, 100, 100, 100, 96},
			wantBuy:  0.1,
			wantSell: 0.7,
			wantConf: 0.8,
		},
		{
			name:     "flat momentum holds",
			closes:   []float64{100, 100, 100, 100, 101},
			wantBuy:  0.2,
			wantSell: 0.2,
			wantConf: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := seriesOf("MSFT", tt.closes...)
			expert := NewTechnical(&stubPrices{series: map[string]domain.PriceSeries{"MSFT": series}})

			sig, err := expert.Evaluate(context.Background(), "MSFT", lastDate(series))
			require.NoError(t, err)

			require.InDelta(t, tt.wantBuy, sig.Probabilities.Buy, 1e-9)
			require.InDelta(t, tt.wantSell, sig.Probabilities.Sell, 1e-9)
			require.InDelta(t, tt.wantConf, sig.Confidence, 1e-9)
			require.Equal(t, "momentum", sig.Meta.Diagnostics["method"])
		})
	}
}

func TestTechnicalInsufficientData(t *testing.T) {
	series := seriesOf("AAPL", 100, 101, 102)
	expert := NewTechnical(&stubPrices{series: map[string]domain.PriceSeries{"AAPL": series}})

	sig, err := expert.Evaluate(context.Background(), "AAPL", lastDate(series))
	require.NoError(t, err)

	require.InDelta(t, 1.0, sig.Probabilities.Hold, 1e-9)
	require.InDelta(t, 0.12, sig.Confidence, 1e-9)
	require.Equal(t, "fallback", sig.Meta.Diagnostics["method"])
	require.Zero(t, sig.Meta.DataQuality)
}

func TestTechnicalCachesSeries(t *testing.T) {
	series := seriesOf("AAPL", 100, 100, 100, 100, 104)
	provider := &stubPrices{series: map[string]domain.PriceSeries{"AAPL": series}}
	expert := NewTechnical(provider)

	for _, date := range series.Dates() {
		_, err := expert.Evaluate(context.Background(), "AAPL", date)
		require.NoError(t, err)
	}

	require.Equal(t, 1, provider.loads)
}

func TestTechnicalLoadError(t *testing.T) {
	expert := NewTechnical(&stubPrices{err: errors.New("csv missing")})

	_, err := expert.Evaluate(context.Background(), "AAPL", time.Now())
	require.ErrorContains(t, err, "csv missing")
}
