package backtest

// Orquestador del backtest día a día. Por cada día hábil común a todos los
// tickers evalúa a los expertos en paralelo, agrega sus señales, ejecuta la
// decisión contra el simulador y registra todo en el recorder. Al terminar
// calcula las métricas finales y construye el resumen del run.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/moebot/internal/aggregator"
	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/alejandrodnm/moebot/internal/metrics"
	"github.com/alejandrodnm/moebot/internal/ports"
	"github.com/alejandrodnm/moebot/internal/simulator"
)

const defaultExpertTimeout = 30 * time.Second

// Params define el alcance de un run: qué tickers, qué rango de fechas y con
// qué reglas de cartera.
type Params struct {
	Tickers   []string
	StartDate time.Time
	EndDate   time.Time

	// ExpertTimeout acota cada llamada individual a un experto.
	ExpertTimeout time.Duration

	Simulation   simulator.Config
	RiskFreeRate float64
}

// Result es la salida completa de un run terminado.
type Result struct {
	Summary   domain.RunSummary
	Portfolio domain.PortfolioMetrics
	Tickers   map[string]domain.TickerMetrics
	Daily     []domain.DailyMetrics
	Trades    []domain.TradeRecord
	Final     domain.PortfolioState
}

// Engine coordina expertos, agregador, simulador y recorder durante un run.
type Engine struct {
	params     Params
	experts    []ports.Expert
	aggregator *aggregator.Aggregator
	prices     ports.PriceProvider
	recorder   ports.RunRecorder
	calculator *metrics.Calculator
}

// New valida los parámetros y construye el engine. El error sale aquí y no a
// mitad de run: fechas desordenadas o sin tickers nunca llegan a ejecutar.
func New(params Params, experts []ports.Expert, prices ports.PriceProvider, recorder ports.RunRecorder) (*Engine, error) {
	if len(params.Tickers) == 0 {
		return nil, errors.New("backtest.New: at least one ticker is required")
	}
	if !params.EndDate.After(params.StartDate) {
		return nil, fmt.Errorf("backtest.New: end date %s is not after start date %s",
			params.EndDate.Format("2006-01-02"), params.StartDate.Format("2006-01-02"))
	}
	if len(experts) == 0 {
		return nil, errors.New("backtest.New: at least one expert is required")
	}
	if params.ExpertTimeout <= 0 {
		params.ExpertTimeout = defaultExpertTimeout
	}

	return &Engine{
		params:     params,
		experts:    experts,
		aggregator: aggregator.New(),
		prices:     prices,
		recorder:   recorder,
		calculator: metrics.NewCalculator(params.RiskFreeRate),
	}, nil
}

// Run ejecuta el backtest completo y devuelve el resultado. El contexto
// cancela el run entre días; el día en curso termina de procesarse.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	startedAt := time.Now()
	runID := uuid.NewString()

	slog.Info("backtest: starting run",
		"run_id", runID,
		"tickers", e.params.Tickers,
		"start", e.params.StartDate.Format("2006-01-02"),
		"end", e.params.EndDate.Format("2006-01-02"))

	series, err := e.loadSeries(ctx)
	if err != nil {
		return Result{}, err
	}

	days := tradingDays(series, e.params.StartDate, e.params.EndDate)
	if len(days) == 0 {
		return Result{}, fmt.Errorf("backtest.Run: no common trading days between %s and %s",
			e.params.StartDate.Format("2006-01-02"), e.params.EndDate.Format("2006-01-02"))
	}
	slog.Info("backtest: trading calendar resolved", "days", len(days))

	sim := simulator.New(e.params.Simulation, days[0])
	totalDecisions, successfulDecisions := 0, 0

	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("backtest.Run: cancelled on day %d/%d: %w", i+1, len(days), err)
		}

		closes := make(map[string]float64, len(e.params.Tickers))
		for _, ticker := range e.params.Tickers {
			price, ok := series[ticker].CloseOn(day)
			if !ok || price <= 0 {
				slog.Warn("backtest: no valid price, skipping ticker for the day",
					"ticker", ticker, "date", day.Format("2006-01-02"))
				continue
			}
			closes[ticker] = price

			signals := e.evaluateExperts(ctx, ticker, day)
			result := e.aggregator.Aggregate(signals)

			// Toda decisión agregada cuenta, incluidos los HOLD: la tasa de
			// éxito mide decisiones ejecutadas sobre decisiones tomadas.
			totalDecisions++

			state := sim.State()
			e.recorder.LogDailyTicker(day, ticker, price, result, state.Positions[ticker])

			if result.Decision == domain.DecisionHold {
				continue
			}

			side := domain.SideBuy
			if result.Decision == domain.DecisionSell {
				side = domain.SideSell
			}
			record := sim.ExecuteTrade(ticker, side, price, result.Confidence, result.Reasoning, day)
			if record.Success {
				successfulDecisions++
				e.recorder.LogTrade(record)
			} else {
				slog.Debug("backtest: trade rejected",
					"ticker", ticker, "side", side, "reason", record.Reason)
			}
		}

		state := sim.UpdatePrices(closes, day)
		e.recorder.LogDailyPortfolio(day, state)

		if (i+1)%20 == 0 || i == len(days)-1 {
			slog.Info("backtest: progress",
				"day", i+1, "of", len(days),
				"portfolio_value", fmt.Sprintf("%.2f", state.TotalValue))
		}
	}

	final := sim.State()
	history := sim.History()
	trades := sim.Trades()

	portfolio := e.calculator.Portfolio(history, trades)
	daily := e.calculator.Daily(history)
	perTicker := make(map[string]domain.TickerMetrics, len(e.params.Tickers))
	for _, ticker := range e.params.Tickers {
		perTicker[ticker] = e.calculator.Ticker(ticker, history, trades)
	}

	if err := e.recorder.SaveFinalResults(portfolio, daily, perTicker); err != nil {
		return Result{}, fmt.Errorf("backtest.Run: save results: %w", err)
	}

	successRate := float64(successfulDecisions) / float64(max(totalDecisions, 1))
	summary := domain.RunSummary{
		ID:             runID,
		StartedAt:      startedAt,
		StartDate:      days[0],
		EndDate:        days[len(days)-1],
		Tickers:        e.params.Tickers,
		InitialCapital: e.params.Simulation.InitialCapital,
		FinalValue:     final.TotalValue,
		TotalReturn:    portfolio.TotalReturn,
		SharpeRatio:    portfolio.SharpeRatio,
		MaxDrawdown:    portfolio.MaxDrawdown,
		TotalDecisions: totalDecisions,
		SuccessRate:    successRate,
		OutputDir:      e.recorder.Dir(),
	}

	slog.Info("backtest: run completed",
		"run_id", runID,
		"final_value", fmt.Sprintf("%.2f", final.TotalValue),
		"total_return", fmt.Sprintf("%.2f%%", portfolio.TotalReturn*100),
		"decisions", totalDecisions,
		"elapsed", time.Since(startedAt).Round(time.Millisecond))

	return Result{
		Summary:   summary,
		Portfolio: portfolio,
		Tickers:   perTicker,
		Daily:     daily,
		Trades:    trades,
		Final:     final,
	}, nil
}

// loadSeries precarga la serie de cada ticker. Un ticker sin datos aborta el
// run: seguir sin él cambiaría el universo pedido en silencio.
func (e *Engine) loadSeries(ctx context.Context) (map[string]domain.PriceSeries, error) {
	series := make(map[string]domain.PriceSeries, len(e.params.Tickers))
	for _, ticker := range e.params.Tickers {
		s, err := e.prices.Load(ctx, ticker)
		if err != nil {
			return nil, fmt.Errorf("backtest.Run: load prices for %s: %w", ticker, err)
		}
		series[ticker] = s
	}
	return series, nil
}

// evaluateExperts lanza todos los expertos en paralelo con timeout por
// llamada. Un experto que falla o expira queda ausente del mapa; el agregador
// reparte el peso entre los presentes.
func (e *Engine) evaluateExperts(ctx context.Context, ticker string, day time.Time) map[string]domain.ExpertSignal {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		signals = make(map[string]domain.ExpertSignal, len(e.experts))
	)

	for _, expert := range e.experts {
		wg.Add(1)
		go func(expert ports.Expert) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, e.params.ExpertTimeout)
			defer cancel()

			sig, err := expert.Evaluate(callCtx, ticker, day)
			if err != nil {
				slog.Warn("backtest: expert failed, excluding from aggregation",
					"expert", expert.Name(), "ticker", ticker,
					"date", day.Format("2006-01-02"), "err", err)
				return
			}

			mu.Lock()
			signals[expert.Name()] = sig
			mu.Unlock()
		}(expert)
	}

	wg.Wait()
	return signals
}

// tradingDays interseca los calendarios de todas las series dentro del rango
// pedido. Solo se opera un día si todos los tickers tienen barra ese día.
func tradingDays(series map[string]domain.PriceSeries, start, end time.Time) []time.Time {
	start, end = domain.Day(start), domain.Day(end)

	counts := make(map[time.Time]int)
	for _, s := range series {
		for _, date := range s.Dates() {
			if date.Before(start) || date.After(end) {
				continue
			}
			counts[date]++
		}
	}

	var days []time.Time
	for date, n := range counts {
		if n == len(series) {
			days = append(days, date)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
