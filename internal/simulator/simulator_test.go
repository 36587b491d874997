package simulator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/moebot/internal/domain"
)

func testConfig() Config {
	return Config{
		InitialCapital:  100_000,
		PositionSizing:  0.08,
		MaxPositionSize: 0.25,
		MaxPositions:    10,
		CashReserve:     0.2,
		MinCashReserve:  0.1,
		TransactionCost: 0.001,
		Slippage:        0.0005,
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		price      float64
		want       int
	}{
		{name: "high confidence", confidence: 0.8, price: 50, want: 144},
		{name: "full confidence", confidence: 1.0, price: 50, want: 160},
		{name: "zero confidence floors at half base", confidence: 0.0, price: 50, want: 80},
		{name: "expensive share clamps to minimum one", confidence: 0.5, price: 90_000, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(testConfig(), day("2023-01-02"))
			got := s.positionSize("AAPL", tt.price, tt.confidence)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteBuy(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))

	rec := s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.8, "test buy", day("2023-01-03"))

	require.True(t, rec.Success)
	assert.Equal(t, 144, rec.Quantity)
	assert.InDelta(t, 7210.80, rec.TotalCost, 1e-9)

	state := s.State()
	assert.InDelta(t, 100_000-7210.80, state.Cash, 1e-9)
	require.Contains(t, state.Positions, "AAPL")
	assert.Equal(t, 144, state.Positions["AAPL"].Quantity)
	assert.InDelta(t, 50, state.Positions["AAPL"].AvgPrice, 1e-9)
}

func TestExecuteBuyShrinksWhenCashShort(t *testing.T) {
	cfg := testConfig()
	cfg.InitialCapital = 5_000
	cfg.PositionSizing = 1.0
	cfg.MaxPositionSize = 1.0
	s := New(cfg, day("2023-01-02"))

	// La orden a confianza plena quiere 100 acciones a $50; solo hay
	// $4,500 desplegables por encima de la reserva, que cubren 89 a
	// $50.075 cada una.
	rec := s.ExecuteTrade("AAPL", domain.SideBuy, 50, 1.0, "", day("2023-01-03"))

	require.True(t, rec.Success)
	assert.Equal(t, 89, rec.Quantity)
	assert.Contains(t, rec.Reason, "partial execution")
}

func TestExecuteBuyRejectedWhenReserveExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.InitialCapital = 100
	cfg.MinCashReserve = 1.0
	s := New(cfg, day("2023-01-02"))

	rec := s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.9, "", day("2023-01-03"))

	assert.False(t, rec.Success)
	assert.Contains(t, rec.Reason, "insufficient cash")
	assert.Equal(t, 100.0, s.State().Cash)
	assert.Empty(t, s.Trades())
}

func TestExecuteSell(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))
	s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.8, "", day("2023-01-03"))

	rec := s.ExecuteTrade("AAPL", domain.SideSell, 60, 0.7, "take profit", day("2023-01-10"))

	require.True(t, rec.Success)
	assert.Equal(t, domain.SideSell, rec.Side)

	state := s.State()
	if pos, held := state.Positions["AAPL"]; held {
		assert.Less(t, pos.Quantity, 144)
	}
}

func TestExecuteSellWithoutPosition(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))

	rec := s.ExecuteTrade("MSFT", domain.SideSell, 200, 0.6, "", day("2023-01-03"))

	assert.False(t, rec.Success)
	assert.Contains(t, rec.Reason, "no position")
}

func TestExecuteSellClampsToHeldShares(t *testing.T) {
	cfg := testConfig()
	cfg.PositionSizing = 0.01
	s := New(cfg, day("2023-01-02"))
	buy := s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.0, "", day("2023-01-03"))
	require.True(t, buy.Success)
	held := buy.Quantity

	cfg2 := s.cfg
	cfg2.PositionSizing = 0.5
	s.cfg = cfg2

	rec := s.ExecuteTrade("AAPL", domain.SideSell, 55, 0.9, "", day("2023-01-05"))
	require.True(t, rec.Success)
	assert.Equal(t, held, rec.Quantity)
	assert.NotContains(t, s.State().Positions, "AAPL")
}

func TestPositionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 1
	s := New(cfg, day("2023-01-02"))

	first := s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.8, "", day("2023-01-03"))
	require.True(t, first.Success)

	second := s.ExecuteTrade("MSFT", domain.SideBuy, 200, 0.8, "", day("2023-01-03"))
	assert.False(t, second.Success)
	assert.Contains(t, second.Reason, "position limit")

	// Ampliar una posición existente sigue permitido en el límite.
	again := s.ExecuteTrade("AAPL", domain.SideBuy, 52, 0.8, "", day("2023-01-04"))
	assert.True(t, again.Success)
}

func TestUpdatePricesAppendsDailySnapshot(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))
	require.Len(t, s.History(), 1)

	s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.8, "", day("2023-01-03"))
	require.Len(t, s.History(), 1, "trades must not append history")

	state := s.UpdatePrices(map[string]float64{"AAPL": 55}, day("2023-01-03"))
	require.Len(t, s.History(), 2)

	// 144 acciones marcadas de $50 a $55 ganan $720 en el día.
	assert.InDelta(t, 144*5.0, state.TotalPnL, 1e-9)
	assert.Greater(t, state.DailyReturn, 0.0)

	// Los snapshots son copias profundas; marcados posteriores no deben
	// reescribirlos.
	s.UpdatePrices(map[string]float64{"AAPL": 40}, day("2023-01-04"))
	assert.InDelta(t, 55, s.History()[1].Positions["AAPL"].MarkPrice, 1e-9)
}

func TestUpdatePricesSkipsInvalidMarks(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))
	s.ExecuteTrade("AAPL", domain.SideBuy, 50, 0.8, "", day("2023-01-03"))

	s.UpdatePrices(map[string]float64{"AAPL": -1}, day("2023-01-03"))
	assert.InDelta(t, 50, s.State().Positions["AAPL"].MarkPrice, 1e-9)
}

// TestRandomizedSequenceKeepsLedgerConsistent martillea el ledger con una
// secuencia aleatoria (semilla fija) de compras, ventas y holds a precios en
// paseo aleatorio, y comprueba tras cada mutación que la caja nunca queda
// negativa y que el valor total cuadra con caja más posiciones marcadas.
func TestRandomizedSequenceKeepsLedgerConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tickers := []string{"AAPL", "MSFT", "GOOG", "AMZN"}
	prices := map[string]float64{"AAPL": 50, "MSFT": 200, "GOOG": 120, "AMZN": 90}
	sides := []domain.TradeSide{domain.SideBuy, domain.SideSell, domain.SideHold}

	s := New(testConfig(), day("2023-01-02"))
	date := day("2023-01-03")

	checkLedger := func(step int) {
		state := s.State()
		require.GreaterOrEqual(t, state.Cash, 0.0, "step %d: cash went negative", step)

		positionsValue := 0.0
		for _, pos := range state.Positions {
			require.Greater(t, pos.Quantity, 0, "step %d: empty position kept in map", step)
			positionsValue += float64(pos.Quantity) * pos.MarkPrice
		}
		require.InDelta(t, state.Cash+positionsValue, state.TotalValue, 1e-6,
			"step %d: total value diverged from cash plus marked positions", step)
	}

	for step := 0; step < 500; step++ {
		ticker := tickers[rng.Intn(len(tickers))]
		prices[ticker] *= 1 + (rng.Float64()-0.5)*0.1

		s.ExecuteTrade(ticker, sides[rng.Intn(len(sides))], prices[ticker], rng.Float64(), "", date)
		checkLedger(step)

		if step%5 == 4 {
			s.UpdatePrices(prices, date)
			checkLedger(step)
			date = date.AddDate(0, 0, 1)
		}
	}
}

func TestHoldRecordsAudit(t *testing.T) {
	s := New(testConfig(), day("2023-01-02"))

	rec := s.ExecuteTrade("AAPL", domain.SideHold, 50, 0.4, "no edge", day("2023-01-03"))

	assert.True(t, rec.Success)
	assert.Equal(t, 0, rec.Quantity)
	assert.Len(t, s.Trades(), 1)
	assert.Equal(t, 100_000.0, s.State().Cash)
}
