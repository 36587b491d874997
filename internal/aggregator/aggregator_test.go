package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/moebot/internal/domain"
)

func signal(buy, hold, sell, confidence, dataQuality float64) domain.ExpertSignal {
	return domain.ExpertSignal{
		Probabilities: domain.SignalVector{Buy: buy, Hold: hold, Sell: sell},
		Confidence:    confidence,
		Meta:          domain.SignalMeta{DataQuality: dataQuality},
	}
}

func TestAggregateSingleExpert(t *testing.T) {
	result := New().Aggregate(map[string]domain.ExpertSignal{
		"technical": signal(0.8, 0.1, 0.1, 0.9, 0.9),
	})

	assert.Equal(t, domain.DecisionBuy, result.Decision)
	assert.InDelta(t, 1.0, result.Weights["technical"], 1e-9)
	assert.InDelta(t, 0.8, result.Probabilities.Buy, 1e-9)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	require.Len(t, result.Contributions, 1)
	assert.Contains(t, result.Reasoning, "Decision: BUY")
}

func TestAggregateWeighsByConfidence(t *testing.T) {
	// El experto confiado y certero debe pesar más que el dubitativo.
	result := New().Aggregate(map[string]domain.ExpertSignal{
		"technical": signal(0.8, 0.1, 0.1, 0.9, 0.9),
		"analyst":   signal(0.2, 0.6, 0.2, 0.3, 0.5),
	})

	assert.Greater(t, result.Weights["technical"], result.Weights["analyst"])
	assert.InDelta(t, 1.0, result.Weights["technical"]+result.Weights["analyst"], 1e-9)
	assert.Equal(t, domain.DecisionBuy, result.Decision)

	// Contribuciones ordenadas por peso descendente.
	require.Len(t, result.Contributions, 2)
	assert.Equal(t, "technical", result.Contributions[0].Name)
}

func TestCombineTwoExpertPinnedValues(t *testing.T) {
	// Combinación de referencia: sentiment (0.6,0.3,0.1) con peso 0.6 y
	// technical (0.2,0.6,0.2) con peso 0.4 dan exactamente (0.44,0.42,0.14),
	// que ya suma 1 antes de renormalizar, y la decisión es BUY.
	signals := map[string]domain.ExpertSignal{
		"sentiment": signal(0.6, 0.3, 0.1, 0.8, 1.0),
		"technical": signal(0.2, 0.6, 0.2, 0.4, 1.0),
	}
	weights := map[string]float64{"sentiment": 0.6, "technical": 0.4}

	combined := combine(signals, weights)

	assert.InDelta(t, 0.44, combined.Buy, 1e-9)
	assert.InDelta(t, 0.42, combined.Hold, 1e-9)
	assert.InDelta(t, 0.14, combined.Sell, 1e-9)
	assert.Equal(t, domain.DecisionBuy, combined.Decision())

	// De punta a punta, con esas confianzas el gating cae muy cerca de
	// 0.6/0.4 y la combinación aterriza en los mismos valores.
	result := New().Aggregate(signals)

	assert.InDelta(t, 0.60, result.Weights["sentiment"], 0.01)
	assert.InDelta(t, 0.40, result.Weights["technical"], 0.01)
	assert.InDelta(t, 0.44, result.Probabilities.Buy, 0.01)
	assert.InDelta(t, 0.42, result.Probabilities.Hold, 0.01)
	assert.InDelta(t, 0.14, result.Probabilities.Sell, 0.01)
	assert.Equal(t, domain.DecisionBuy, result.Decision)
}

func TestAggregateDisagreementDilutesSignal(t *testing.T) {
	// Dos expertos simétricos en direcciones opuestas se anulan: la
	// probabilidad combinada queda cerca de la uniforme.
	result := New().Aggregate(map[string]domain.ExpertSignal{
		"bull": signal(0.7, 0.2, 0.1, 0.8, 0.9),
		"bear": signal(0.1, 0.2, 0.7, 0.8, 0.9),
	})

	assert.InDelta(t, result.Probabilities.Buy, result.Probabilities.Sell, 1e-9)
	assert.InDelta(t, 0.5, result.Weights["bull"], 1e-9)
}

func TestAggregateEmptyMapUsesFallback(t *testing.T) {
	result := New().Aggregate(nil)

	assert.Equal(t, domain.DecisionHold, result.Decision)
	assert.InDelta(t, 1.0, result.Probabilities.Hold, 1e-9)
	assert.InDelta(t, 0.1, result.Confidence, 1e-9)
	assert.Contains(t, result.Reasoning, "fallback")
	assert.Empty(t, result.Contributions)
}

func TestAggregateIsDeterministic(t *testing.T) {
	signals := map[string]domain.ExpertSignal{
		"technical": signal(0.6, 0.3, 0.1, 0.7, 0.8),
		"analyst":   signal(0.5, 0.4, 0.1, 0.6, 0.9),
	}

	first := New().Aggregate(signals)
	second := New().Aggregate(signals)

	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Weights, second.Weights)
	assert.Equal(t, first.Probabilities, second.Probabilities)
	assert.Equal(t, first.Reasoning, second.Reasoning)
}
