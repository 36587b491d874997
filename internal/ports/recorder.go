package ports

import (
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// RunRecorder persiste cada decisión, trade y snapshot diario de un run de
// backtest. Es un sumidero puro de efectos: nada del core lee de él durante
// el run.
type RunRecorder interface {
	// LogDailyTicker registra la decisión tomada para un ticker en un día,
	// con la posición mantenida en ese momento (nil si no hay).
	LogDailyTicker(date time.Time, ticker string, price float64, result domain.AggregationResult, position *domain.Position)

	// LogDailyPortfolio registra el snapshot canónico de cartera del día.
	LogDailyPortfolio(date time.Time, state domain.PortfolioState)

	// LogTrade registra un trade ejecutado.
	LogTrade(record domain.TradeRecord)

	// SaveFinalResults vuelca todo y escribe las métricas finales.
	SaveFinalResults(portfolio domain.PortfolioMetrics, daily []domain.DailyMetrics, tickers map[string]domain.TickerMetrics) error

	// Dir devuelve el directorio de salida del run.
	Dir() string
}
