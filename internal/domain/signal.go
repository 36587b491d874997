package domain

import (
	"fmt"
	"math"
	"time"
)

// probSumTolerance es la deriva permitida al validar que las probabilidades
// de una señal suman 1.0.
const probSumTolerance = 1e-6

// SignalVector es una distribución de probabilidad de 3 clases sobre
// {buy, hold, sell}. Construir vía NewSignalVector para que se cumpla el
// invariante de suma.
type SignalVector struct {
	Buy  float64 `json:"buy"`
	Hold float64 `json:"hold"`
	Sell float64 `json:"sell"`
}

// NewSignalVector valida y construye un SignalVector. Los componentes deben
// ser no negativos y sumar 1.0 con tolerancia 1e-6; los inputs malformados
// se rechazan aquí, nunca se renormalizan en silencio aguas abajo.
func NewSignalVector(buy, hold, sell float64) (SignalVector, error) {
	if buy < 0 || hold < 0 || sell < 0 {
		return SignalVector{}, fmt.Errorf("domain.NewSignalVector: negative probability (%.4f, %.4f, %.4f)", buy, hold, sell)
	}
	total := buy + hold + sell
	if math.IsNaN(total) || math.Abs(total-1.0) > probSumTolerance {
		return SignalVector{}, fmt.Errorf("domain.NewSignalVector: probabilities must sum to 1.0, got %.8f", total)
	}
	return SignalVector{Buy: buy, Hold: hold, Sell: sell}, nil
}

// MustSignalVector construye un SignalVector validado o entra en pánico.
// Solo para distribuciones fijas conocidas en tiempo de compilación; las
// probabilidades que llegan de fuera pasan por NewSignalVector.
func MustSignalVector(buy, hold, sell float64) SignalVector {
	v, err := NewSignalVector(buy, hold, sell)
	if err != nil {
		panic(err)
	}
	return v
}

// Entropy devuelve la entropía de Shannon -Σ p·ln(p) de la distribución,
// saltando componentes en cero.
func (v SignalVector) Entropy() float64 {
	entropy := 0.0
	for _, p := range []float64{v.Buy, v.Hold, v.Sell} {
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	return entropy
}

// Certainty mapea la entropía a [0, 1]: 1 para una distribución one-hot,
// 0 para la uniforme. Normalizada por ln(3), la entropía máxima con 3 clases.
func (v SignalVector) Certainty() float64 {
	if v.Buy+v.Hold+v.Sell <= 0 {
		return 0
	}
	certainty := 1.0 - v.Entropy()/math.Log(3)
	return clamp01(certainty)
}

// Decision devuelve la acción argmax. En empates exactos buy gana a sell,
// y sell gana a hold; ese orden es parte del contrato.
func (v SignalVector) Decision() DecisionType {
	maxProb := math.Max(v.Buy, math.Max(v.Hold, v.Sell))
	switch {
	case v.Buy == maxProb:
		return DecisionBuy
	case v.Sell == maxProb:
		return DecisionSell
	default:
		return DecisionHold
	}
}

// SignalMeta describe cómo se produjo una señal: el tipo de fuente, la
// latencia de producción, la calidad del dato de entrada y diagnósticos
// de forma libre.
type SignalMeta struct {
	SourceType     string
	ModelName      string
	ProcessingTime time.Duration
	DataQuality    float64
	Diagnostics    map[string]any
}

// ExpertSignal es la salida completa de un experto para un (ticker, fecha).
// Inmutable tras su creación: los consumidores solo la leen.
type ExpertSignal struct {
	Probabilities SignalVector
	Confidence    float64
	Meta          SignalMeta
	Timestamp     time.Time
}

func clamp01(x float64) float64 {
	return math.Min(1.0, math.Max(0.0, x))
}
