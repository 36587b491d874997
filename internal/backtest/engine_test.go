package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/alejandrodnm/moebot/internal/ports"
	"github.com/alejandrodnm/moebot/internal/simulator"
)

type stubPrices struct {
	series map[string]domain.PriceSeries
}

func (s stubPrices) Load(_ context.Context, ticker string) (domain.PriceSeries, error) {
	series, ok := s.series[ticker]
	if !ok {
		return domain.PriceSeries{}, errors.New("unknown ticker")
	}
	return series, nil
}

// stubExpert emite siempre la misma señal, o falla siempre.
type stubExpert struct {
	name   string
	signal domain.ExpertSignal
	err    error
	block  bool // espera a que el contexto expire
}

func (e stubExpert) Name() string { return e.name }

func (e stubExpert) Evaluate(ctx context.Context, _ string, _ time.Time) (domain.ExpertSignal, error) {
	if e.block {
		<-ctx.Done()
		return domain.ExpertSignal{}, ctx.Err()
	}
	if e.err != nil {
		return domain.ExpertSignal{}, e.err
	}
	return e.signal, nil
}

// memRecorder acumula en memoria todo lo que el engine registra.
type memRecorder struct {
	tickerLogs    int
	portfolioLogs int
	trades        []domain.TradeRecord
	saved         bool
}

func (r *memRecorder) LogDailyTicker(time.Time, string, float64, domain.AggregationResult, *domain.Position) {
	r.tickerLogs++
}

func (r *memRecorder) LogDailyPortfolio(time.Time, domain.PortfolioState) {
	r.portfolioLogs++
}

func (r *memRecorder) LogTrade(record domain.TradeRecord) {
	r.trades = append(r.trades, record)
}

func (r *memRecorder) SaveFinalResults(domain.PortfolioMetrics, []domain.DailyMetrics, map[string]domain.TickerMetrics) error {
	r.saved = true
	return nil
}

func (r *memRecorder) Dir() string { return "/tmp/run" }

func seriesOf(ticker string, start time.Time, closes ...float64) domain.PriceSeries {
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return domain.NewPriceSeries(ticker, bars)
}

func buyExpert(name string) stubExpert {
	return stubExpert{
		name: name,
		signal: domain.ExpertSignal{
			Probabilities: domain.SignalVector{Buy: 0.8, Hold: 0.1, Sell: 0.1},
			Confidence:    0.9,
			Meta:          domain.SignalMeta{SourceType: name, DataQuality: 0.9},
			Timestamp:     time.Now(),
		},
	}
}

func holdExpert(name string) stubExpert {
	return stubExpert{
		name: name,
		signal: domain.ExpertSignal{
			Probabilities: domain.SignalVector{Buy: 0.1, Hold: 0.8, Sell: 0.1},
			Confidence:    0.7,
			Meta:          domain.SignalMeta{SourceType: name, DataQuality: 0.9},
			Timestamp:     time.Now(),
		},
	}
}

func testParams(tickers ...string) Params {
	return Params{
		Tickers:   tickers,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Simulation: simulator.Config{
			InitialCapital:  100_000,
			PositionSizing:  0.08,
			MaxPositionSize: 0.25,
			MaxPositions:    10,
			CashReserve:     0.2,
			MinCashReserve:  0.1,
			TransactionCost: 0.001,
			Slippage:        0.0005,
		},
	}
}

func TestNewValidation(t *testing.T) {
	prices := stubPrices{}
	recorder := &memRecorder{}
	experts := []ports.Expert{buyExpert("technical")}

	tests := []struct {
		name    string
		mutate  func(*Params)
		experts []ports.Expert
		wantErr string
	}{
		{
			name:    "no tickers",
			mutate:  func(p *Params) { p.Tickers = nil },
			experts: experts,
			wantErr: "at least one ticker",
		},
		{
			name:    "end before start",
			mutate:  func(p *Params) { p.EndDate = p.StartDate.AddDate(0, 0, -1) },
			experts: experts,
			wantErr: "not after start date",
		},
		{
			name:    "no experts",
			mutate:  func(*Params) {},
			experts: nil,
			wantErr: "at least one expert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams("AAPL")
			tt.mutate(&params)

			_, err := New(params, tt.experts, prices, recorder)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunBuysAndRecords(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := stubPrices{series: map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", start, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109),
	}}
	recorder := &memRecorder{}

	engine, err := New(testParams("AAPL"), []ports.Expert{buyExpert("technical")}, prices, recorder)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 10, recorder.portfolioLogs)
	require.Equal(t, 10, recorder.tickerLogs)
	require.NotEmpty(t, recorder.trades)
	require.True(t, recorder.saved)

	require.NotEmpty(t, result.Summary.ID)
	require.Equal(t, start, result.Summary.StartDate)
	require.Equal(t, start.AddDate(0, 0, 9), result.Summary.EndDate)
	require.Equal(t, 100_000.0, result.Summary.InitialCapital)
	require.Equal(t, 10, result.Summary.TotalDecisions)
	require.Greater(t, result.Summary.SuccessRate, 0.0)
	// Comprando en una subida sostenida el valor final supera el inicial.
	require.Greater(t, result.Final.TotalValue, 100_000.0)
	require.Contains(t, result.Tickers, "AAPL")
	require.Len(t, result.Daily, 10)
}

func TestRunAllHoldProducesNoTrades(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := stubPrices{series: map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", start, 100, 101, 102, 103, 104),
	}}
	recorder := &memRecorder{}

	params := testParams("AAPL")
	params.EndDate = start.AddDate(0, 0, 4)
	engine, err := New(params, []ports.Expert{holdExpert("technical")}, prices, recorder)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, recorder.trades)
	// Las decisiones HOLD también cuentan: cinco días, cinco decisiones,
	// ninguna ejecutada.
	require.Equal(t, 5, result.Summary.TotalDecisions)
	require.Zero(t, result.Summary.SuccessRate)
	require.InDelta(t, 100_000.0, result.Final.TotalValue, 1e-9)
}

func TestRunFailingExpertFallsBackToHold(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := stubPrices{series: map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", start, 100, 101, 102),
	}}
	recorder := &memRecorder{}

	params := testParams("AAPL")
	params.EndDate = start.AddDate(0, 0, 2)
	failing := stubExpert{name: "technical", err: errors.New("boom")}
	engine, err := New(params, []ports.Expert{failing}, prices, recorder)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, recorder.trades)
	// El fallback del agregador decide HOLD pero la decisión queda contada.
	require.Equal(t, 3, result.Summary.TotalDecisions)
	require.Zero(t, result.Summary.SuccessRate)
}

func TestRunExpertTimeoutExcludesExpert(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := stubPrices{series: map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", start, 100, 101),
	}}
	recorder := &memRecorder{}

	params := testParams("AAPL")
	params.EndDate = start.AddDate(0, 0, 1)
	params.ExpertTimeout = 10 * time.Millisecond
	experts := []ports.Expert{
		stubExpert{name: "analyst", block: true},
		buyExpert("technical"),
	}
	engine, err := New(params, experts, prices, recorder)
	require.NoError(t, err)

	// El experto bloqueado expira y el técnico decide solo: sigue comprando.
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, recorder.trades)
	require.Greater(t, result.Summary.SuccessRate, 0.0)
}

func TestRunNoCommonTradingDays(t *testing.T) {
	prices := stubPrices{series: map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 100, 101),
	}}

	engine, err := New(testParams("AAPL"), []ports.Expert{buyExpert("technical")}, prices, &memRecorder{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.ErrorContains(t, err, "no common trading days")
}

func TestTradingDaysIntersection(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := map[string]domain.PriceSeries{
		"AAPL": seriesOf("AAPL", start, 100, 101, 102, 103),
		"MSFT": seriesOf("MSFT", start.AddDate(0, 0, 2), 200, 201, 202, 203),
	}

	days := tradingDays(series, start, start.AddDate(0, 0, 10))

	require.Len(t, days, 2)
	require.Equal(t, start.AddDate(0, 0, 2), days[0])
	require.Equal(t, start.AddDate(0, 0, 3), days[1])
}

func TestRunLoadErrorAborts(t *testing.T) {
	engine, err := New(testParams("NOPE"), []ports.Expert{buyExpert("technical")}, stubPrices{}, &memRecorder{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.ErrorContains(t, err, "load prices for NOPE")
}
