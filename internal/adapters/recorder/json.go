package recorder

// Recorder de runs sobre ficheros JSON. Cada run escribe su propio
// directorio backtest_<timestamp>_<tickers> con config.json (estado
// running→completed), portfolio_daily.json, tickers_daily.json, trades.json
// y results.json, pensados para que el frontend visualice el run sin
// re-ejecutarlo.

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/alejandrodnm/moebot/internal/simulator"
)

// JSON acumula en memoria todo lo registrado y lo vuelca al cerrar el run.
// No es seguro para uso concurrente: el engine lo invoca desde un solo
// goroutine.
type JSON struct {
	dir            string
	initialCapital float64

	portfolioDaily []portfolioDay
	tickersDaily   map[string][]tickerDay
	trades         []tradeEntry
}

type portfolioDay struct {
	Date             string  `json:"date"`
	TotalValue       float64 `json:"total_value"`
	Cash             float64 `json:"cash"`
	PositionsValue   float64 `json:"positions_value"`
	DailyReturn      float64 `json:"daily_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
	NumPositions     int     `json:"num_positions"`
	CashReserve      float64 `json:"cash_reserve"`
	AvailableCapital float64 `json:"available_capital"`
}

type expertEntry struct {
	Weight        float64    `json:"weight"`
	Confidence    float64    `json:"confidence"`
	Probabilities [3]float64 `json:"probabilities"`
}

type positionEntry struct {
	Quantity      int     `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

type tickerDay struct {
	Date               string                 `json:"date"`
	Price              float64                `json:"price"`
	Decision           string                 `json:"decision"`
	OverallConfidence  float64                `json:"overall_confidence"`
	ExpertContributions map[string]expertEntry `json:"expert_contributions"`
	FinalProbabilities [3]float64             `json:"final_probabilities"`
	Reasoning          string                 `json:"reasoning"`
	Position           *positionEntry         `json:"position"`
}

type portfolioSnapshot struct {
	TotalValue     float64 `json:"total_value"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
}

type tradeEntry struct {
	TradeID           string            `json:"trade_id"`
	Date              string            `json:"date"`
	Ticker            string            `json:"ticker"`
	Action            string            `json:"action"`
	Quantity          int               `json:"quantity"`
	Price             float64           `json:"price"`
	Value             float64           `json:"value"`
	TransactionCost   float64           `json:"transaction_cost"`
	Slippage          float64           `json:"slippage"`
	TotalCost         float64           `json:"total_cost"`
	OverallConfidence float64           `json:"overall_confidence"`
	Reasoning         string            `json:"reasoning"`
	Success           bool              `json:"success"`
	PortfolioBefore   portfolioSnapshot `json:"portfolio_before"`
	PortfolioAfter    portfolioSnapshot `json:"portfolio_after"`
}

type runConfig struct {
	BacktestID      string   `json:"backtest_id"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	InitialCapital  float64  `json:"initial_capital"`
	PositionSizing  float64  `json:"position_sizing"`
	MaxPositionSize float64  `json:"max_position_size"`
	MaxPositions    int      `json:"max_positions"`
	CashReserve     float64  `json:"cash_reserve"`
	MinCashReserve  float64  `json:"min_cash_reserve"`
	TransactionCost float64  `json:"transaction_cost"`
	Slippage        float64  `json:"slippage"`
	Tickers         []string `json:"tickers"`
	CreatedAt       string   `json:"created_at"`
	Status          string   `json:"status"`
	CompletedAt     string   `json:"completed_at,omitempty"`
}

// NewJSON crea el directorio del run y escribe config.json en estado
// running. El nombre del directorio lleva timestamp y tickers para poder
// distinguir runs a simple vista.
func NewJSON(baseDir string, tickers []string, start, end time.Time, sim simulator.Config) (*JSON, error) {
	id := fmt.Sprintf("backtest_%s_%s",
		time.Now().Format("20060102_150405"),
		strings.Join(tickers, "-"))
	dir := filepath.Join(baseDir, id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder.NewJSON: create %s: %w", dir, err)
	}

	r := &JSON{
		dir:            dir,
		initialCapital: sim.InitialCapital,
		tickersDaily:   make(map[string][]tickerDay),
	}

	cfg := runConfig{
		BacktestID:      id,
		StartDate:       start.Format("2006-01-02"),
		EndDate:         end.Format("2006-01-02"),
		InitialCapital:  sim.InitialCapital,
		PositionSizing:  sim.PositionSizing,
		MaxPositionSize: sim.MaxPositionSize,
		MaxPositions:    sim.MaxPositions,
		CashReserve:     sim.CashReserve,
		MinCashReserve:  sim.MinCashReserve,
		TransactionCost: sim.TransactionCost,
		Slippage:        sim.Slippage,
		Tickers:         tickers,
		CreatedAt:       time.Now().Format(time.RFC3339),
		Status:          "running",
	}
	if err := r.writeFile("config.json", cfg); err != nil {
		return nil, err
	}

	slog.Info("recorder: run directory created", "dir", dir)
	return r, nil
}

func (r *JSON) Dir() string { return r.dir }

// LogDailyPortfolio acumula el snapshot de cartera del día.
func (r *JSON) LogDailyPortfolio(date time.Time, state domain.PortfolioState) {
	cumulative := 0.0
	if r.initialCapital > 0 {
		cumulative = (state.TotalValue - r.initialCapital) / r.initialCapital
	}

	r.portfolioDaily = append(r.portfolioDaily, portfolioDay{
		Date:             date.Format("2006-01-02"),
		TotalValue:       state.TotalValue,
		Cash:             state.Cash,
		PositionsValue:   state.TotalValue - state.Cash,
		DailyReturn:      state.DailyReturn,
		CumulativeReturn: cumulative,
		NumPositions:     len(state.Positions),
		CashReserve:      state.CashReserve,
		AvailableCapital: state.AvailableCapital,
	})
}

// LogDailyTicker acumula la decisión del día para un ticker con el desglose
// por experto.
func (r *JSON) LogDailyTicker(date time.Time, ticker string, price float64, result domain.AggregationResult, position *domain.Position) {
	experts := make(map[string]expertEntry, len(result.Contributions))
	for _, c := range result.Contributions {
		experts[c.Name] = expertEntry{
			Weight:        c.Weight,
			Confidence:    c.Confidence,
			Probabilities: [3]float64{c.Probabilities.Buy, c.Probabilities.Hold, c.Probabilities.Sell},
		}
	}

	var pos *positionEntry
	if position != nil {
		pos = &positionEntry{
			Quantity:      position.Quantity,
			AvgPrice:      position.AvgPrice,
			MarkPrice:     position.MarkPrice,
			UnrealizedPnL: position.UnrealizedPnL,
		}
	}

	r.tickersDaily[ticker] = append(r.tickersDaily[ticker], tickerDay{
		Date:                date.Format("2006-01-02"),
		Price:               price,
		Decision:            string(result.Decision),
		OverallConfidence:   result.Confidence,
		ExpertContributions: experts,
		FinalProbabilities:  [3]float64{result.Probabilities.Buy, result.Probabilities.Hold, result.Probabilities.Sell},
		Reasoning:           result.Reasoning,
		Position:            pos,
	})
}

// LogTrade acumula un trade ejecutado con IDs secuenciales trade_001, ...
func (r *JSON) LogTrade(record domain.TradeRecord) {
	r.trades = append(r.trades, tradeEntry{
		TradeID:           fmt.Sprintf("trade_%03d", len(r.trades)+1),
		Date:              record.Date.Format("2006-01-02"),
		Ticker:            record.Ticker,
		Action:            string(record.Side),
		Quantity:          record.Quantity,
		Price:             record.Price,
		Value:             record.Value,
		TransactionCost:   record.TransactionCost,
		Slippage:          record.Slippage,
		TotalCost:         record.TotalCost,
		OverallConfidence: record.Confidence,
		Reasoning:         record.Reasoning,
		Success:           record.Success,
		PortfolioBefore: portfolioSnapshot{
			TotalValue:     record.Before.TotalValue,
			Cash:           record.Before.Cash,
			PositionsValue: record.Before.TotalValue - record.Before.Cash,
		},
		PortfolioAfter: portfolioSnapshot{
			TotalValue:     record.After.TotalValue,
			Cash:           record.After.Cash,
			PositionsValue: record.After.TotalValue - record.After.Cash,
		},
	})
}

// SaveFinalResults vuelca todos los ficheros del run y marca config.json
// como completed.
func (r *JSON) SaveFinalResults(portfolio domain.PortfolioMetrics, daily []domain.DailyMetrics, tickers map[string]domain.TickerMetrics) error {
	if err := r.writeFile("portfolio_daily.json", r.portfolioDaily); err != nil {
		return err
	}
	if err := r.writeFile("tickers_daily.json", r.tickersDaily); err != nil {
		return err
	}
	if err := r.writeFile("trades.json", r.trades); err != nil {
		return err
	}

	sanitizedTickers := make(map[string]domain.TickerMetrics, len(tickers))
	for ticker, m := range tickers {
		sanitizedTickers[ticker] = sanitizeTicker(m)
	}
	sanitizedDaily := make([]domain.DailyMetrics, len(daily))
	for i, row := range daily {
		row.SharpeRatio = finite(row.SharpeRatio, "daily sharpe_ratio")
		row.SortinoRatio = finite(row.SortinoRatio, "daily sortino_ratio")
		sanitizedDaily[i] = row
	}
	results := map[string]any{
		"portfolio_metrics": sanitizePortfolio(portfolio),
		"daily_metrics":     sanitizedDaily,
		"ticker_summary":    sanitizedTickers,
	}
	if err := r.writeFile("results.json", results); err != nil {
		return err
	}

	if err := r.completeConfig(); err != nil {
		return err
	}

	slog.Info("recorder: run saved",
		"dir", r.dir,
		"days", len(r.portfolioDaily),
		"trades", len(r.trades))
	return nil
}

func (r *JSON) completeConfig() error {
	path := filepath.Join(r.dir, "config.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("recorder.SaveFinalResults: read config: %w", err)
	}

	var cfg runConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("recorder.SaveFinalResults: decode config: %w", err)
	}

	cfg.Status = "completed"
	cfg.CompletedAt = time.Now().Format(time.RFC3339)
	return r.writeFile("config.json", cfg)
}

func (r *JSON) writeFile(name string, data any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("recorder: encode %s: %w", name, err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("recorder: write %s: %w", name, err)
	}
	return nil
}

// sanitizePortfolio reemplaza por cero los valores no finitos: encoding/json
// rechaza Inf y NaN, y un Sortino sin retornos negativos es +Inf legítimo.
func sanitizePortfolio(m domain.PortfolioMetrics) domain.PortfolioMetrics {
	m.SortinoRatio = finite(m.SortinoRatio, "sortino_ratio")
	m.ProfitFactor = finite(m.ProfitFactor, "profit_factor")
	m.SharpeRatio = finite(m.SharpeRatio, "sharpe_ratio")
	m.CalmarRatio = finite(m.CalmarRatio, "calmar_ratio")
	m.AnnualizedReturn = finite(m.AnnualizedReturn, "annualized_return")
	return m
}

func sanitizeTicker(m domain.TickerMetrics) domain.TickerMetrics {
	m.SortinoRatio = finite(m.SortinoRatio, "sortino_ratio")
	m.ProfitFactor = finite(m.ProfitFactor, "profit_factor")
	m.SharpeRatio = finite(m.SharpeRatio, "sharpe_ratio")
	m.CalmarRatio = finite(m.CalmarRatio, "calmar_ratio")
	m.AnnualizedReturn = finite(m.AnnualizedReturn, "annualized_return")
	return m
}

func finite(v float64, name string) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		slog.Warn("recorder: non-finite metric written as zero", "metric", name, "value", v)
		return 0
	}
	return v
}
