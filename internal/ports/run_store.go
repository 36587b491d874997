package ports

import (
	"context"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// RunStore indexa runs de backtest completados para compararlos después.
type RunStore interface {
	// SaveRun persiste el resumen de un run completado.
	SaveRun(ctx context.Context, summary domain.RunSummary) error

	// RecentRuns devuelve hasta limit resúmenes de runs, el más nuevo primero.
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// Close cierra la base de datos subyacente de forma limpia.
	Close() error
}
