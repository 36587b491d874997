package aggregator

// Combina señales de expertos independientes en una sola decisión.
//
// Cada experto recibe un peso de gating según su confianza, calidad de datos
// y certeza de la decisión; los pesos se normalizan, las probabilidades se
// combinan como media ponderada y la acción final es el argmax del resultado.
// La ponderación es una heurística fija, recalculada en cada llamada.

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
)

const (
	// minGatingWeight evita que un experto presente quede anulado antes
	// de normalizar.
	minGatingWeight = 0.1

	dataQualityBonus = 0.4
	certaintyBonus   = 0.4
)

// Aggregator no tiene estado y es reproducible: el mismo mapa de señales
// produce siempre el mismo resultado.
type Aggregator struct{}

func New() *Aggregator {
	return &Aggregator{}
}

// Aggregate combina las señales de los expertos presentes en una decisión.
// Los expertos que fallaron aguas arriba simplemente no están en el mapa; un
// mapa vacío produce el resultado HOLD de fallback determinista, nunca error.
func (a *Aggregator) Aggregate(signals map[string]domain.ExpertSignal) domain.AggregationResult {
	start := time.Now()

	if len(signals) == 0 {
		return FallbackResult(time.Since(start))
	}

	weights := gatingWeights(signals)
	final := combine(signals, weights)
	contributions := contributionsByWeight(signals, weights)
	decision := final.Decision()
	confidence := overallConfidence(contributions)

	return domain.AggregationResult{
		Probabilities: final,
		Contributions: contributions,
		Weights:       weights,
		Decision:      decision,
		Confidence:    confidence,
		Reasoning:     reasoning(contributions, decision, final),
		Elapsed:       time.Since(start),
	}
}

// FallbackResult es la decisión fija usada cuando ningún experto produjo
// salida: hold, con la confianza mínima.
func FallbackResult(elapsed time.Duration) domain.AggregationResult {
	return domain.AggregationResult{
		Probabilities: domain.MustSignalVector(0, 1, 0),
		Contributions: nil,
		Weights:       map[string]float64{},
		Decision:      domain.DecisionHold,
		Confidence:    0.1,
		Reasoning:     "Aggregation failed - using fallback decision",
		Elapsed:       elapsed,
	}
}

// gatingWeights calcula la influencia normalizada de cada experto presente:
// peso crudo = confianza + 0.4×dataQuality + 0.4×certeza, con suelo 0.1, y
// luego dividido por la suma. Cae a pesos uniformes si la suma es cero.
func gatingWeights(signals map[string]domain.ExpertSignal) map[string]float64 {
	weights := make(map[string]float64, len(signals))
	total := 0.0

	for name, sig := range signals {
		weight := sig.Confidence +
			sig.Meta.DataQuality*dataQualityBonus +
			sig.Probabilities.Certainty()*certaintyBonus
		if weight < minGatingWeight {
			weight = minGatingWeight
		}
		weights[name] = weight
		total += weight
	}

	if total > 0 {
		for name := range weights {
			weights[name] /= total
		}
	} else {
		uniform := 1.0 / float64(len(signals))
		for name := range weights {
			weights[name] = uniform
		}
	}

	slog.Debug("aggregator: gating weights computed", "weights", weights)
	return weights
}

// combine toma la media ponderada de las probabilidades por clase y
// renormaliza el resultado para absorber la deriva de coma flotante.
func combine(signals map[string]domain.ExpertSignal, weights map[string]float64) domain.SignalVector {
	var buy, hold, sell float64
	for name, sig := range signals {
		w := weights[name]
		buy += sig.Probabilities.Buy * w
		hold += sig.Probabilities.Hold * w
		sell += sig.Probabilities.Sell * w
	}

	total := buy + hold + sell
	if total > 0 {
		buy /= total
		hold /= total
		sell /= total
	}

	return domain.SignalVector{Buy: buy, Hold: hold, Sell: sell}
}

// contributionsByWeight construye los registros de contribución por experto,
// ordenados por peso descendente (nombre ascendente en empates, por
// determinismo).
func contributionsByWeight(signals map[string]domain.ExpertSignal, weights map[string]float64) []domain.ExpertContribution {
	contributions := make([]domain.ExpertContribution, 0, len(signals))
	for name, sig := range signals {
		contributions = append(contributions, domain.ExpertContribution{
			Name:          name,
			Weight:        weights[name],
			Confidence:    sig.Confidence,
			Probabilities: sig.Probabilities,
		})
	}

	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].Weight != contributions[j].Weight {
			return contributions[i].Weight > contributions[j].Weight
		}
		return contributions[i].Name < contributions[j].Name
	})

	return contributions
}

// overallConfidence es la media ponderada por gating de las confianzas
// propias de los expertos.
func overallConfidence(contributions []domain.ExpertContribution) float64 {
	var weightedSum, totalWeight float64
	for _, c := range contributions {
		weightedSum += c.Confidence * c.Weight
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// reasoning construye una explicación determinista: la decisión, el top 3 de
// expertos por peso y las probabilidades agregadas en porcentajes.
func reasoning(contributions []domain.ExpertContribution, decision domain.DecisionType, final domain.SignalVector) string {
	parts := []string{
		fmt.Sprintf("Decision: %s", decision),
		"Top contributing experts:",
	}

	top := contributions
	if len(top) > 3 {
		top = top[:3]
	}
	for i, c := range top {
		parts = append(parts, fmt.Sprintf("  %d. %s (weight: %.2f, confidence: %.2f)",
			i+1, capitalize(c.Name), c.Weight, c.Confidence))
	}

	parts = append(parts, fmt.Sprintf("Probabilities: Buy %.1f%%, Hold %.1f%%, Sell %.1f%%",
		final.Buy*100, final.Hold*100, final.Sell*100))

	return strings.Join(parts, " | ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
