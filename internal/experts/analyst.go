package experts

// Experto analista respaldado por LLM: convierte los indicadores técnicos
// de la ventana reciente en un prompt, pide al servidor de inferencia local
// un array [p_buy, p_hold, p_sell] y lo parsea. Cualquier fallo de
// transporte o de parseo degrada a la señal de fallback llm_failed; el
// orquestador nunca ve un error de este experto por esa vía.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/moebot/internal/adapters/llm"
	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/alejandrodnm/moebot/internal/ports"
)

// Generator es el trozo del cliente LLM que el analista necesita.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Analyst pide al modelo una lectura de los indicadores técnicos del día.
type Analyst struct {
	llm       Generator
	technical *Technical
}

// NewAnalyst crea el experto analista. Comparte la caché de series del
// experto técnico para no cargar los CSV dos veces.
func NewAnalyst(generator Generator, prices ports.PriceProvider) *Analyst {
	return &Analyst{
		llm:       generator,
		technical: NewTechnical(prices),
	}
}

func (a *Analyst) Name() string { return "analyst" }

// Evaluate calcula los indicadores, consulta al modelo y puntúa la señal
// con LLMConfidence. Sin indicadores suficientes o con el modelo caído
// emite la señal de fallback correspondiente.
func (a *Analyst) Evaluate(ctx context.Context, ticker string, date time.Time) (domain.ExpertSignal, error) {
	start := time.Now()

	series, err := a.technical.seriesFor(ctx, ticker)
	if err != nil {
		return domain.ExpertSignal{}, fmt.Errorf("experts.Analyst.Evaluate: %w", err)
	}

	window := series.Window(date, lookbackBars)
	ind, ok := computeIndicators(window)
	if !ok {
		slog.Warn("expert: insufficient data for llm analysis",
			"ticker", ticker, "date", date.Format("2006-01-02"), "bars", len(window))
		sig := insufficientDataSignal(start)
		sig.Meta.SourceType = "analyst"
		return sig, nil
	}

	prompt := analystPrompt(ticker, date, ind)

	response, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("expert: llm generation failed", "ticker", ticker, "err", err)
		return llmFailedSignal(a.llm.Model(), start), nil
	}

	parsed, err := llm.ParseProbabilities(response)
	if err != nil {
		slog.Warn("expert: could not parse llm probabilities", "ticker", ticker, "err", err)
		return llmFailedSignal(a.llm.Model(), start), nil
	}

	// El parser ya normaliza, pero la señal pasa igualmente por el
	// constructor: una distribución malformada degrada a llm_failed.
	probs, err := domain.NewSignalVector(parsed[0], parsed[1], parsed[2])
	if err != nil {
		slog.Warn("expert: llm probabilities rejected", "ticker", ticker, "err", err)
		return llmFailedSignal(a.llm.Model(), start), nil
	}

	dataQuality := 0.7
	if len(window) >= 20 {
		dataQuality = 0.9
	}

	confidence := domain.LLMConfidence(response, 1.0, domain.ConfidenceFactors{
		Probabilities:  probs,
		IndicatorsUsed: ind.count,
	})

	return domain.ExpertSignal{
		Probabilities: probs,
		Confidence:    confidence,
		Meta: domain.SignalMeta{
			SourceType:     "analyst",
			ModelName:      a.llm.Model(),
			ProcessingTime: time.Since(start),
			DataQuality:    dataQuality,
			Diagnostics: map[string]any{
				"method":       "llm_analysis",
				"llm_response": truncate(response, 200),
			},
		},
		Timestamp: time.Now(),
	}, nil
}

// indicators es el resumen técnico que se vuelca al prompt.
type indicators struct {
	currentPrice float64
	maShort      float64
	maLong       float64
	trend        string
	change5d     float64
	volumeTrend  string
	count        int
}

// computeIndicators deriva el resumen de la ventana. Necesita al menos la
// media larga; el resto de campos degradan a valores neutros.
func computeIndicators(window []domain.PriceBar) (indicators, bool) {
	if len(window) < longWindow {
		return indicators{}, false
	}

	closes := make([]float64, len(window))
	for i, bar := range window {
		closes[i] = bar.Close
	}

	ind := indicators{
		currentPrice: closes[len(closes)-1],
		maShort:      sma(closes, shortWindow),
		maLong:       sma(closes, longWindow),
		count:        2,
	}

	if len(closes) >= 5 {
		ago := closes[len(closes)-5]
		now := closes[len(closes)-1]
		switch {
		case now > ago:
			ind.trend = "uptrend"
		case now < ago:
			ind.trend = "downtrend"
		default:
			ind.trend = "sideways"
		}
		if ago != 0 {
			ind.change5d = (now - ago) / ago
		}
		ind.count++
	} else {
		ind.trend = "insufficient_data"
	}

	if len(window) >= 10 {
		avgVol := 0.0
		for _, bar := range window[len(window)-10:] {
			avgVol += bar.Volume
		}
		avgVol /= 10
		current := window[len(window)-1].Volume
		switch {
		case current > avgVol*1.5:
			ind.volumeTrend = "high_volume"
		case current < avgVol*0.5:
			ind.volumeTrend = "low_volume"
		default:
			ind.volumeTrend = "normal_volume"
		}
		ind.count++
	}

	return ind, true
}

// analystPrompt pide explícitamente solo el array de probabilidades; el
// parser tolera desviaciones igualmente.
func analystPrompt(ticker string, date time.Time, ind indicators) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a financial analyst. Based on the technical indicators below, provide ONLY a probability array for trading %s.\n\n", ticker)
	fmt.Fprintf(&b, "Date: %s\n", date.Format("2006-01-02"))
	fmt.Fprintf(&b, "Current Price: %.2f\n", ind.currentPrice)
	fmt.Fprintf(&b, "MA%d: %.2f\n", shortWindow, ind.maShort)
	fmt.Fprintf(&b, "MA%d: %.2f\n", longWindow, ind.maLong)
	fmt.Fprintf(&b, "Price Trend (5-day): %s\n", ind.trend)
	fmt.Fprintf(&b, "Price Change (5-day): %.2f%%\n", ind.change5d*100)
	if ind.volumeTrend != "" {
		fmt.Fprintf(&b, "Volume Trend: %s\n", ind.volumeTrend)
	}

	b.WriteString(`
Respond with EXACTLY this format: [p_buy, p_hold, p_sell]
- p_buy: probability of BUY recommendation
- p_hold: probability of HOLD recommendation
- p_sell: probability of SELL recommendation

Rules:
- All three numbers must sum to 1.0
- Use decimal format (e.g., 0.65 not 65%)
- Do not include explanations, code, or other text
- Only provide the three numbers in brackets

Your probabilities:`)

	return b.String()
}

// llmFailedSignal es el fallback cuando el transporte o el parseo fallan.
func llmFailedSignal(model string, start time.Time) domain.ExpertSignal {
	return domain.ExpertSignal{
		Probabilities: domain.MustSignalVector(0, 1, 0),
		Confidence:    domain.FallbackConfidence(domain.FallbackLLMFailed, 0),
		Meta: domain.SignalMeta{
			SourceType:     "analyst",
			ModelName:      model,
			ProcessingTime: time.Since(start),
			DataQuality:    0,
			Diagnostics:    map[string]any{"method": "fallback", "reason": "llm failed"},
		},
		Timestamp: time.Now(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
