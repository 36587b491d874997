package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// Expert es una fuente de señal independiente que produce un ExpertSignal
// por (ticker, fecha). Un experto que falla devuelve error y se trata como
// ausente en esa ronda, nunca como una señal rellena con ceros.
type Expert interface {
	Name() string
	Evaluate(ctx context.Context, ticker string, date time.Time) (domain.ExpertSignal, error)
}
