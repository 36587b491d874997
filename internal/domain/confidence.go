package domain

// Scoring dinámico de confianza para señales de expertos.
//
// Tres puntos de entrada, uno por método de producción de la señal:
//   - LLMConfidence: la señal vino de una respuesta de un modelo de lenguaje
//   - RuleBasedConfidence: la señal vino de reglas deterministas
//   - FallbackConfidence: fallaron los datos o la generación aguas arriba
//
// Los tres combinan los mismos ingredientes (calidad del dato, certeza de la
// decisión, profundidad del análisis y una constante de fiabilidad por
// método) con pesos distintos.

import (
	"regexp"
	"strings"
)

// FallbackReason clasifica por qué un experto tuvo que recurrir al fallback.
type FallbackReason string

const (
	FallbackNoData           FallbackReason = "no_data"
	FallbackLLMFailed        FallbackReason = "llm_failed"
	FallbackInsufficientData FallbackReason = "insufficient_data"
)

// ConfidenceFactors son los inputs auxiliares que alimentan los términos de
// profundidad de análisis y fuerza de señal. Los valores en cero simplemente
// no aportan nada.
type ConfidenceFactors struct {
	Probabilities SignalVector

	ArticlesAnalyzed    int
	IndicatorsUsed      int
	RatiosAnalyzed      int
	StatementsAvailable int

	BuySignals   int
	SellSignals  int
	TotalSignals int
}

// probArrayPattern matchea un array numérico entre corchetes como "[0.6, 0.3, 0.1]".
var probArrayPattern = regexp.MustCompile(`\[[0-9.,\s]+\]`)

// LLMConfidence puntúa una señal producida desde una respuesta de LLM.
//
// Suma ponderada: dataQuality×0.2 + responseQuality×0.3 + certainty×0.25 +
// analysisDepth×0.15 + methodReliability(0.9)×0.1, con clamp a [0, 1].
func LLMConfidence(response string, dataQuality float64, factors ConfidenceFactors) float64 {
	const methodReliability = 0.9

	confidence := dataQuality*0.2 +
		responseQuality(response)*0.3 +
		factors.Probabilities.Certainty()*0.25 +
		analysisDepth(factors)*0.15 +
		methodReliability*0.1

	return clamp01(confidence)
}

// RuleBasedConfidence puntúa una señal producida por reglas deterministas.
//
// Suma ponderada: dataQuality×0.25 + certainty×0.25 + analysisDepth×0.2 +
// methodReliability(0.6)×0.15 + signalStrength×0.15, con clamp a [0, 1].
func RuleBasedConfidence(dataQuality float64, factors ConfidenceFactors) float64 {
	const methodReliability = 0.6

	confidence := dataQuality*0.25 +
		factors.Probabilities.Certainty()*0.25 +
		analysisDepth(factors)*0.2 +
		methodReliability*0.15 +
		signalStrength(factors)*0.15

	return clamp01(confidence)
}

// FallbackConfidence puntúa una señal emitida cuando falló el camino normal:
// una base baja, un pequeño empuje por datos y un bonus según el motivo.
func FallbackConfidence(reason FallbackReason, dataQuality float64) float64 {
	base := 0.1 + dataQuality*0.1

	switch reason {
	case FallbackLLMFailed:
		base += 0.05
	case FallbackInsufficientData:
		base += 0.02
	}

	return clamp01(base)
}

// responseQuality es una heurística barata sobre el texto crudo de la
// respuesta del LLM.
func responseQuality(response string) float64 {
	trimmed := strings.TrimSpace(response)
	if len(trimmed) < 10 {
		return 0.1
	}

	score := 0.5
	lower := strings.ToLower(response)

	if probArrayPattern.MatchString(response) {
		score += 0.3
	}
	if strings.Contains(lower, "probability") || strings.Contains(lower, "buy") {
		score += 0.1
	}
	if len(response) >= 50 && len(response) <= 500 {
		score += 0.1
	}
	for _, word := range []string{"error", "sorry", "cannot", "unable"} {
		if strings.Contains(lower, word) {
			score -= 0.2
			break
		}
	}

	return clamp01(score)
}

// analysisDepth premia señales respaldadas por más evidencia auxiliar, con
// aporte capado por tipo de factor y un bonus por mezclar varios tipos.
func analysisDepth(factors ConfidenceFactors) float64 {
	depth := 0.3
	kinds := 0

	if factors.ArticlesAnalyzed > 0 {
		kinds++
		depth += capped(float64(factors.ArticlesAnalyzed)/20.0, 0.2)
	}
	if factors.IndicatorsUsed > 0 {
		kinds++
		depth += capped(float64(factors.IndicatorsUsed)/10.0, 0.2)
	}
	if factors.RatiosAnalyzed > 0 {
		kinds++
		depth += capped(float64(factors.RatiosAnalyzed)/20.0, 0.2)
	}
	if factors.StatementsAvailable > 0 {
		kinds++
		depth += capped(float64(factors.StatementsAvailable)/5.0, 0.1)
	}

	if kinds >= 2 {
		depth += 0.1
	}

	return clamp01(depth)
}

// signalStrength premia conjuntos de reglas con dirección clara: cuantas más
// reglas disparadas apuntan al mismo lado, más fuerte la señal.
func signalStrength(factors ConfidenceFactors) float64 {
	strength := 0.3

	if factors.TotalSignals > 0 {
		directional := max(factors.BuySignals, factors.SellSignals)
		strength += float64(directional) / float64(factors.TotalSignals) * 0.4
		if factors.TotalSignals >= 3 {
			strength += 0.2
		}
	}

	return clamp01(strength)
}

func capped(x, cap float64) float64 {
	if x > cap {
		return cap
	}
	return x
}
