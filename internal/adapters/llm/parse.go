package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Patrones de extracción, probados en orden de especificidad. Las
// respuestas del modelo varían del formato pedido con frecuencia, así que
// el parseo es deliberadamente permisivo: cualquier triple plausible se
// normaliza a suma 1.0.
var (
	arrayPattern    = regexp.MustCompile(`\[([0-9.,\s]+)\]`)
	labeledPattern  = regexp.MustCompile(`(?is)buy[:\s]*([0-9.]+).*?hold[:\s]*([0-9.]+).*?sell[:\s]*([0-9.]+)`)
	prefixedPattern = regexp.MustCompile(`(?is)p_buy[:\s]*=?\s*([0-9.]+).*?p_hold[:\s]*=?\s*([0-9.]+).*?p_sell[:\s]*=?\s*([0-9.]+)`)
	decimalPattern  = regexp.MustCompile(`\b([0-9]+\.[0-9]+)\b`)
)

// ParseProbabilities extrae un triple [buy, hold, sell] de una respuesta
// cruda del modelo y lo normaliza a suma 1.0. Devuelve error si ningún
// patrón produce un triple utilizable.
func ParseProbabilities(response string) ([3]float64, error) {
	response = strings.TrimSpace(response)

	// Patrón 1: "[0.7, 0.2, 0.1]".
	if m := arrayPattern.FindStringSubmatch(response); m != nil {
		parts := strings.Split(m[1], ",")
		if len(parts) == 3 {
			if probs, ok := parseTriple(parts[0], parts[1], parts[2]); ok {
				return probs, nil
			}
		}
	}

	// Patrón 2: "buy: 0.7, hold: 0.2, sell: 0.1".
	if m := labeledPattern.FindStringSubmatch(response); m != nil {
		if probs, ok := parseTriple(m[1], m[2], m[3]); ok {
			return probs, nil
		}
	}

	// Patrón 3: "p_buy = 0.7, p_hold = 0.2, p_sell = 0.1".
	if m := prefixedPattern.FindStringSubmatch(response); m != nil {
		if probs, ok := parseTriple(m[1], m[2], m[3]); ok {
			return probs, nil
		}
	}

	// Patrón 4: tres decimales consecutivos cualesquiera que sumen ~1.0,
	// para respuestas con explicación larga.
	numbers := decimalPattern.FindAllString(response, -1)
	for i := 0; i+2 < len(numbers); i++ {
		var raw [3]float64
		ok := true
		for j := 0; j < 3; j++ {
			v, err := strconv.ParseFloat(numbers[i+j], 64)
			if err != nil {
				ok = false
				break
			}
			raw[j] = v
		}
		if !ok {
			continue
		}
		if sum := raw[0] + raw[1] + raw[2]; sum >= 0.8 && sum <= 1.2 {
			if probs, ok := parseTriple(numbers[i], numbers[i+1], numbers[i+2]); ok {
				return probs, nil
			}
		}
	}

	return [3]float64{}, fmt.Errorf("llm.ParseProbabilities: no probability triple in response (%.60s...)", response)
}

// parseTriple parsea tres strings numéricas y las normaliza a suma 1.0.
func parseTriple(a, b, c string) ([3]float64, bool) {
	var probs [3]float64
	for i, s := range []string{a, b, c} {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || v < 0 {
			return probs, false
		}
		probs[i] = v
	}
	total := probs[0] + probs[1] + probs[2]
	if total <= 0 {
		return probs, false
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs, true
}
