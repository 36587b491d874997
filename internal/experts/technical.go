package experts

// Experto técnico puramente basado en reglas sobre la ventana de precios
// reciente. Prueba las reglas en orden de especificidad: cruce de medias
// móviles, momentum, y por último el fallback de datos insuficientes.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/alejandrodnm/moebot/internal/ports"
)

const (
	shortWindow       = 3
	longWindow        = 7
	momentumWindow    = 5
	momentumThreshold = 0.03

	// lookbackBars cubre de sobra la media larga más el momentum.
	lookbackBars = 30
)

// Technical genera señales desde reglas deterministas sobre OHLCV.
type Technical struct {
	prices ports.PriceProvider

	mu     sync.Mutex
	series map[string]domain.PriceSeries
}

// NewTechnical crea el experto técnico sobre el proveedor de precios dado.
func NewTechnical(prices ports.PriceProvider) *Technical {
	return &Technical{
		prices: prices,
		series: make(map[string]domain.PriceSeries),
	}
}

func (t *Technical) Name() string { return "technical" }

// Evaluate produce la señal del día. Nunca devuelve error por falta de
// datos: sin ventana suficiente emite el fallback HOLD con confianza baja.
func (t *Technical) Evaluate(ctx context.Context, ticker string, date time.Time) (domain.ExpertSignal, error) {
	start := time.Now()

	series, err := t.seriesFor(ctx, ticker)
	if err != nil {
		return domain.ExpertSignal{}, fmt.Errorf("experts.Technical.Evaluate: %w", err)
	}

	window := series.Window(date, lookbackBars)

	if sig, ok := crossoverSignal(window, start); ok {
		return sig, nil
	}
	if sig, ok := momentumSignal(window, start); ok {
		return sig, nil
	}

	slog.Warn("expert: insufficient data for technical rules",
		"ticker", ticker, "date", date.Format("2006-01-02"), "bars", len(window))
	return insufficientDataSignal(start), nil
}

// seriesFor cachea la serie completa por ticker; la carga es una sola vez
// por run y las evaluaciones por día solo recortan ventanas.
func (t *Technical) seriesFor(ctx context.Context, ticker string) (domain.PriceSeries, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.series[ticker]; ok {
		return s, nil
	}
	s, err := t.prices.Load(ctx, ticker)
	if err != nil {
		return domain.PriceSeries{}, err
	}
	t.series[ticker] = s
	return s, nil
}

// crossoverSignal busca el cruce más reciente entre la media corta y la
// larga, recorriendo la ventana desde el final.
func crossoverSignal(window []domain.PriceBar, start time.Time) (domain.ExpertSignal, bool) {
	if len(window) < longWindow+1 {
		return domain.ExpertSignal{}, false
	}

	closes := make([]float64, len(window))
	for i, bar := range window {
		closes[i] = bar.Close
	}

	for i := len(closes) - 1; i > longWindow; i-- {
		shortPrev, shortCurr := sma(closes[:i], shortWindow), sma(closes[:i+1], shortWindow)
		longPrev, longCurr := sma(closes[:i], longWindow), sma(closes[:i+1], longWindow)

		if shortPrev <= longPrev && shortCurr > longCurr {
			return ruleSignal(domain.MustSignalVector(0.8, 0.1, 0.1),
				"ma_crossover", 0.9, 1, 0, start), true
		}
		if shortPrev >= longPrev && shortCurr < longCurr {
			return ruleSignal(domain.MustSignalVector(0.1, 0.1, 0.8),
				"ma_crossover", 0.9, 0, 1, start), true
		}
	}

	// Sin cruce en la ventana: hold con convicción moderada.
	sig := ruleSignal(domain.MustSignalVector(0.1, 0.8, 0.1),
		"ma_crossover", 0.9, 0, 0, start)
	sig.Confidence = 0.7
	return sig, true
}

// momentumSignal compara el cierre actual contra el de hace momentumWindow
// días; por encima del umbral en cualquier dirección dispara señal.
func momentumSignal(window []domain.PriceBar, start time.Time) (domain.ExpertSignal, bool) {
	if len(window) < momentumWindow {
		return domain.ExpertSignal{}, false
	}

	first := window[len(window)-momentumWindow].Close
	last := window[len(window)-1].Close
	if first == 0 {
		return domain.ExpertSignal{}, false
	}
	change := (last - first) / first

	switch {
	case change > momentumThreshold:
		sig := ruleSignal(domain.MustSignalVector(0.7, 0.2, 0.1),
			"momentum", 0.8, 1, 0, start)
		sig.Confidence = 0.8
		return sig, true
	case change < -momentumThreshold:
		sig := ruleSignal(domain.MustSignalVector(0.1, 0.2, 0.7),
			"momentum", 0.8, 0, 1, start)
		sig.Confidence = 0.8
		return sig, true
	default:
		sig := ruleSignal(domain.MustSignalVector(0.2, 0.6, 0.2),
			"momentum", 0.8, 0, 0, start)
		sig.Confidence = 0.6
		return sig, true
	}
}

// ruleSignal monta una ExpertSignal de método rule_based con la confianza
// dinámica calculada desde los factores de la regla.
func ruleSignal(probs domain.SignalVector, method string, dataQuality float64, buySignals, sellSignals int, start time.Time) domain.ExpertSignal {
	total := buySignals + sellSignals
	if total == 0 {
		total = 1
	}
	confidence := domain.RuleBasedConfidence(dataQuality, domain.ConfidenceFactors{
		Probabilities:  probs,
		IndicatorsUsed: 2,
		BuySignals:     buySignals,
		SellSignals:    sellSignals,
		TotalSignals:   total,
	})

	return domain.ExpertSignal{
		Probabilities: probs,
		Confidence:    confidence,
		Meta: domain.SignalMeta{
			SourceType:     "technical",
			ModelName:      "rule_based",
			ProcessingTime: time.Since(start),
			DataQuality:    dataQuality,
			Diagnostics:    map[string]any{"method": method},
		},
		Timestamp: time.Now(),
	}
}

// insufficientDataSignal es el último recurso: hold total con la confianza
// de fallback.
func insufficientDataSignal(start time.Time) domain.ExpertSignal {
	return domain.ExpertSignal{
		Probabilities: domain.MustSignalVector(0, 1, 0),
		Confidence:    domain.FallbackConfidence(domain.FallbackInsufficientData, 0),
		Meta: domain.SignalMeta{
			SourceType:     "technical",
			ModelName:      "fallback",
			ProcessingTime: time.Since(start),
			DataQuality:    0,
			Diagnostics:    map[string]any{"method": "fallback", "reason": "insufficient data"},
		},
		Timestamp: time.Now(),
	}
}

// sma es la media simple de los últimos n valores del slice.
func sma(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
