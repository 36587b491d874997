package domain

import "time"

// DecisionType es la acción de trading final agregada.
type DecisionType string

const (
	DecisionBuy  DecisionType = "BUY"
	DecisionHold DecisionType = "HOLD"
	DecisionSell DecisionType = "SELL"
)

// ExpertContribution registra cuánto influyó un experto en una decisión.
type ExpertContribution struct {
	Name          string       `json:"name"`
	Weight        float64      `json:"weight"`
	Confidence    float64      `json:"confidence"`
	Probabilities SignalVector `json:"probabilities"`
	Reasoning     string       `json:"reasoning,omitempty"`
}

// AggregationResult es una decisión combinada para un (ticker, fecha).
// Se crea una vez y la consumen inmediatamente el simulador y el recorder.
type AggregationResult struct {
	Probabilities SignalVector
	Contributions []ExpertContribution // ordenadas por peso, mayor primero
	Weights       map[string]float64
	Decision      DecisionType
	Confidence    float64
	Reasoning     string
	Elapsed       time.Duration
}
