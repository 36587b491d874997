package metrics

// Estadísticas de rendimiento sobre la salida del simulador.
//
// Todos los métodos son puros: leen snapshots de cartera y registros de
// trades y producen números. Los inputs degenerados (histórico vacío,
// volatilidad cero, sin trades perdedores) producen centinelas definidos en
// vez de errores, porque un run corto o inactivo es un resultado válido.

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/alejandrodnm/moebot/internal/domain"
)

const (
	tradingDaysPerYear = 252
	daysPerYear        = 365.25

	// rollingWindow es el lookback de las series rolling por día.
	rollingWindow = 30

	// diversificationTarget es el número de posiciones tratado como
	// diversificación plena al puntuar la cartera.
	diversificationTarget = 10
)

// Calculator calcula métricas de cartera, por ticker y por día. La tasa
// libre de riesgo es anualizada.
type Calculator struct {
	riskFreeRate float64
}

func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{riskFreeRate: riskFreeRate}
}

// DailyReturns deriva la serie de retornos día a día del histórico de
// snapshots. Un valor previo no positivo o NaN produce un 0 ese día en vez
// de envenenar las estadísticas posteriores.
func DailyReturns(history []domain.PortfolioState) []float64 {
	if len(history) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		cur := history[i].TotalValue
		if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			returns = append(returns, 0)
			continue
		}
		r := (cur - prev) / prev
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		returns = append(returns, r)
	}
	return returns
}

// Portfolio calcula el conjunto completo de métricas a nivel cartera.
func (c *Calculator) Portfolio(history []domain.PortfolioState, trades []domain.TradeRecord) domain.PortfolioMetrics {
	if len(history) < 2 {
		slog.Warn("metrics: not enough history for portfolio metrics", "snapshots", len(history))
		return domain.PortfolioMetrics{}
	}

	initial := history[0].TotalValue
	final := history[len(history)-1].TotalValue
	returns := DailyReturns(history)

	totalReturn := 0.0
	if initial > 0 {
		totalReturn = (final - initial) / initial
	}
	annualized := annualize(totalReturn, history[len(history)-1].Date.Sub(history[0].Date).Hours()/24)
	volatility := annualizedVolatility(returns)
	maxDD, ddDuration := maxDrawdown(equityCurve(history))

	m := domain.PortfolioMetrics{
		TotalReturn:      totalReturn,
		AnnualizedReturn: annualized,
		SharpeRatio:      c.sharpe(annualized, volatility),
		SortinoRatio:     c.sortino(returns, annualized),
		CalmarRatio:      calmar(annualized, maxDD),
		MaxDrawdown:      maxDD,
		DrawdownDuration: ddDuration,
		Volatility:       volatility,
		// El log de trades no vincula compras con las ventas que las
		// cierran, así que a este nivel el hold time es una estimación
		// fija.
		AvgHoldTime:          30.0,
		CashDrag:             cashDrag(history),
		DiversificationScore: diversification(history),
	}

	executed := executedTrades(trades)
	m.TotalTrades = len(executed)
	m.WinRate, m.ProfitFactor, m.AvgTradeReturn, m.BestTrade, m.WorstTrade = tradeStats(executed)

	return m
}

// Daily calcula una fila de métricas por snapshot, con series de riesgo
// rolling que quedan en 0 hasta que exista una ventana completa de retornos.
func (c *Calculator) Daily(history []domain.PortfolioState) []domain.DailyMetrics {
	if len(history) == 0 {
		return nil
	}

	returns := DailyReturns(history)
	initial := history[0].TotalValue
	drawdowns := rollingDrawdowns(equityCurve(history))
	vol, sharpe, sortino := c.rollingRiskSeries(returns, rollingWindow)

	rows := make([]domain.DailyMetrics, 0, len(history))
	for i, state := range history {
		var unrealized, realized float64
		for _, pos := range state.Positions {
			unrealized += pos.UnrealizedPnL
			realized += pos.RealizedPnL
		}

		cumulative := 0.0
		if initial > 0 {
			cumulative = (state.TotalValue - initial) / initial
		}

		row := domain.DailyMetrics{
			Date:             state.Date,
			PortfolioValue:   state.TotalValue,
			DailyReturn:      state.DailyReturn,
			CumulativeReturn: cumulative,
			Cash:             state.Cash,
			PositionsValue:   state.PositionsValue(),
			TotalPnL:         unrealized + realized,
			UnrealizedPnL:    unrealized,
			RealizedPnL:      realized,
			NumPositions:     len(state.Positions),
			MaxDrawdown:      drawdowns[i],
		}
		// La serie de retornos es uno más corta que el histórico; la
		// fila i se empareja con el retorno que produjo el snapshot i.
		if j := i - 1; j >= 0 && j < len(returns) {
			row.Volatility = vol[j]
			row.SharpeRatio = sharpe[j]
			row.SortinoRatio = sortino[j]
		}
		rows = append(rows, row)
	}
	return rows
}

// Ticker calcula el desglose por ticker. Los retornos se derivan del valor
// de la posición del ticker a lo largo de los snapshots; los retornos por
// ciclo de trade, de los valores agregados de compra y venta.
func (c *Calculator) Ticker(ticker string, history []domain.PortfolioState, trades []domain.TradeRecord) domain.TickerMetrics {
	tickerTrades := make([]domain.TradeRecord, 0)
	for _, t := range trades {
		if t.Ticker == ticker {
			tickerTrades = append(tickerTrades, t)
		}
	}
	if len(tickerTrades) == 0 {
		return domain.TickerMetrics{Ticker: ticker}
	}

	returns := tickerReturns(ticker, history)
	positionValues := positionValueCurve(ticker, history)

	totalReturn := tickerTotalReturn(ticker, history, tickerTrades)
	days := 0.0
	if len(history) >= 2 {
		days = history[len(history)-1].Date.Sub(history[0].Date).Hours() / 24
	}
	annualized := annualize(totalReturn, days)
	volatility := annualizedVolatility(returns)
	maxDD, ddDuration := maxDrawdown(positionValues)

	winRate, avgWin, avgLoss, profitFactor := tickerTradingMetrics(tickerTrades)

	buys := 0
	for _, t := range tickerTrades {
		if t.Side == domain.SideBuy {
			buys++
		}
	}

	return domain.TickerMetrics{
		Ticker:                  ticker,
		TotalReturn:             totalReturn,
		AnnualizedReturn:        annualized,
		SharpeRatio:             c.sharpe(annualized, volatility),
		SortinoRatio:            c.sortino(returns, annualized),
		CalmarRatio:             calmar(annualized, maxDD),
		MaxDrawdown:             maxDD,
		DrawdownDuration:        ddDuration,
		Volatility:              volatility,
		WinRate:                 winRate,
		AvgWin:                  avgWin,
		AvgLoss:                 avgLoss,
		ProfitFactor:            profitFactor,
		ContributionToPortfolio: tickerContribution(ticker, history),
		NumTrades:               len(tickerTrades),
		AvgHoldTime:             holdTimeHeuristic(buys, len(tickerTrades)),
	}
}

// annualize convierte un retorno total sobre un tramo de días naturales en
// una tasa anual.
func annualize(totalReturn, days float64) float64 {
	years := days / daysPerYear
	if years <= 0 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	v := stat.PopStdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func (c *Calculator) sharpe(annualized, volatility float64) float64 {
	if volatility == 0 {
		return 0
	}
	return (annualized - c.riskFreeRate) / volatility
}

// sortino penaliza solo la desviación a la baja. Un run sin días perdedores
// y con exceso de retorno es ilimitadamente bueno y se reporta como +Inf.
func (c *Calculator) sortino(returns []float64, annualized float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		if annualized > c.riskFreeRate {
			return math.Inf(1)
		}
		return 0
	}
	downside := stat.PopStdDev(negative, nil) * math.Sqrt(tradingDaysPerYear)
	if downside == 0 {
		return 0
	}
	return (annualized - c.riskFreeRate) / downside
}

func calmar(annualized, maxDD float64) float64 {
	if maxDD == 0 {
		return 0
	}
	return annualized / maxDD
}

func equityCurve(history []domain.PortfolioState) []float64 {
	values := make([]float64, len(history))
	for i, state := range history {
		values[i] = state.TotalValue
	}
	return values
}

// maxDrawdown recorre una curva de valor buscando la mayor caída de pico a
// valle y cuántos pasos duró la racha perdedora.
func maxDrawdown(values []float64) (float64, int) {
	if len(values) < 2 {
		return 0, 0
	}
	peak := values[0]
	peakIdx := 0
	maxDD := 0.0
	duration := 0
	for i, v := range values {
		if v > peak {
			peak = v
			peakIdx = i
			continue
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
			duration = i - peakIdx
		}
	}
	return maxDD, duration
}

// rollingDrawdowns es el drawdown desde el pico acumulado en cada paso.
func rollingDrawdowns(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	peak := values[0]
	for i, v := range values {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			out[i] = (peak - v) / peak
		}
	}
	return out
}

// rollingRiskSeries calcula volatilidad anualizada, Sharpe y Sortino de
// ventana móvil, alineados con la serie de retornos.
func (c *Calculator) rollingRiskSeries(returns []float64, window int) (vol, sharpe, sortino []float64) {
	n := len(returns)
	vol = make([]float64, n)
	sharpe = make([]float64, n)
	sortino = make([]float64, n)
	if window <= 0 || n < window {
		return vol, sharpe, sortino
	}

	for i := window - 1; i < n; i++ {
		slice := returns[i-window+1 : i+1]
		sd := stat.PopStdDev(slice, nil) * math.Sqrt(tradingDaysPerYear)
		avg := stat.Mean(slice, nil) * tradingDaysPerYear
		vol[i] = sd
		if sd > 0 {
			sharpe[i] = (avg - c.riskFreeRate) / sd
		}

		var negative []float64
		for _, r := range slice {
			if r < 0 {
				negative = append(negative, r)
			}
		}
		if len(negative) > 0 {
			downside := stat.PopStdDev(negative, nil) * math.Sqrt(tradingDaysPerYear)
			if downside > 0 {
				sortino[i] = (avg - c.riskFreeRate) / downside
			}
		}
	}
	return vol, sharpe, sortino
}

// cashDrag es la fracción media de caja mantenida durante el run.
func cashDrag(history []domain.PortfolioState) float64 {
	fractions := make([]float64, 0, len(history))
	for _, state := range history {
		if state.TotalValue > 0 {
			fractions = append(fractions, state.Cash/state.TotalValue)
		}
	}
	if len(fractions) == 0 {
		return 0
	}
	return stat.Mean(fractions, nil)
}

func diversification(history []domain.PortfolioState) float64 {
	if len(history) == 0 {
		return 0
	}
	counts := make([]float64, 0, len(history))
	for _, state := range history {
		counts = append(counts, float64(len(state.Positions)))
	}
	score := stat.Mean(counts, nil) / diversificationTarget
	if score > 1 {
		score = 1
	}
	return score
}

// executedTrades filtra a los registros BUY/SELL que movieron el ledger de
// verdad; las auditorías HOLD y los rechazos no llevan información de
// retorno.
func executedTrades(trades []domain.TradeRecord) []domain.TradeRecord {
	out := make([]domain.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.Success && (t.Side == domain.SideBuy || t.Side == domain.SideSell) {
			out = append(out, t)
		}
	}
	return out
}

// tradeReturn mide un trade por el cambio de valor de cartera que produjo.
func tradeReturn(t domain.TradeRecord) (float64, bool) {
	before := t.Before.TotalValue
	after := t.After.TotalValue
	if before <= 0 || math.IsNaN(before) || math.IsNaN(after) {
		return 0, false
	}
	return (after - before) / before, true
}

func tradeStats(trades []domain.TradeRecord) (winRate, profitFactor, avgReturn, best, worst float64) {
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if r, ok := tradeReturn(t); ok {
			returns = append(returns, r)
		}
	}
	if len(returns) == 0 {
		return 0, 0, 0, 0, 0
	}

	var wins, grossWin, grossLoss float64
	best, worst = returns[0], returns[0]
	for _, r := range returns {
		if r > best {
			best = r
		}
		if r < worst {
			worst = r
		}
		if r > 0 {
			wins++
			grossWin += r
		} else if r < 0 {
			grossLoss += -r
		}
	}
	winRate = wins / float64(len(returns))
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	} else {
		profitFactor = math.Inf(1)
	}
	avgReturn = stat.Mean(returns, nil)
	return winRate, profitFactor, avgReturn, best, worst
}

// tickerReturns deriva una serie de retornos diarios del valor de la
// posición del ticker. Los días que parten de plano aportan 0.
func tickerReturns(ticker string, history []domain.PortfolioState) []float64 {
	if len(history) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(history)-1)
	prev := 0.0
	for i := 1; i < len(history); i++ {
		value := 0.0
		if pos, held := history[i].Positions[ticker]; held {
			value = pos.MarketValue()
		}
		if prev > 0 {
			returns = append(returns, (value-prev)/prev)
		} else {
			returns = append(returns, 0)
		}
		prev = value
	}
	return returns
}

func positionValueCurve(ticker string, history []domain.PortfolioState) []float64 {
	values := make([]float64, len(history))
	for i, state := range history {
		if pos, held := state.Positions[ticker]; held {
			values[i] = pos.MarketValue()
		}
	}
	return values
}

// tickerTotalReturn compara los ingresos brutos de venta más la posición
// restante contra el desembolso bruto de compra.
func tickerTotalReturn(ticker string, history []domain.PortfolioState, trades []domain.TradeRecord) float64 {
	var invested, proceeds float64
	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			invested += t.Value
		case domain.SideSell:
			proceeds += t.Value
		}
	}
	if len(history) > 0 {
		if pos, held := history[len(history)-1].Positions[ticker]; held {
			proceeds += pos.MarketValue()
		}
	}
	if invested <= 0 {
		return 0
	}
	return (proceeds - invested) / invested
}

// tickerTradingMetrics aproxima los retornos por ciclo de trade desde los
// valores agregados de compra y venta, porque los lotes no van emparejados.
func tickerTradingMetrics(trades []domain.TradeRecord) (winRate, avgWin, avgLoss, profitFactor float64) {
	var buyValue, sellValue float64
	var buys, sells int
	for _, t := range trades {
		if !t.Success {
			continue
		}
		switch t.Side {
		case domain.SideBuy:
			buys++
			buyValue += t.Value
		case domain.SideSell:
			sells++
			sellValue += t.Value
		}
	}

	var returns []float64
	switch {
	case buys > 0 && sells > 0 && buyValue > 0:
		avg := (sellValue - buyValue) / buyValue
		for i := 0; i < sells; i++ {
			returns = append(returns, avg)
		}
	case buys > 0:
		// Solo posiciones abiertas: contar el coste de ida y vuelta
		// como resultado realizado hasta ahora.
		for i := 0; i < buys; i++ {
			returns = append(returns, -0.001)
		}
	}
	if len(returns) == 0 {
		return 0, 0, 0, 0
	}

	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, r)
		}
	}

	winRate = float64(len(wins)) / float64(len(returns))
	if len(wins) > 0 {
		avgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		avgLoss = stat.Mean(losses, nil)
	}
	var grossWin, grossLoss float64
	for _, r := range wins {
		grossWin += r
	}
	for _, r := range losses {
		grossLoss += -r
	}
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	}
	return winRate, avgWin, avgLoss, profitFactor
}

func tickerContribution(ticker string, history []domain.PortfolioState) float64 {
	if len(history) == 0 {
		return 0
	}
	final := history[len(history)-1]
	pos, held := final.Positions[ticker]
	if !held || final.TotalValue <= 0 {
		return 0
	}
	return pos.MarketValue() / final.TotalValue
}

// holdTimeHeuristic estima el periodo de tenencia desde la actividad de
// trading.
func holdTimeHeuristic(buyTrades, totalTrades int) float64 {
	if buyTrades == 0 {
		return 0
	}
	switch {
	case totalTrades == 1:
		return 5
	case totalTrades <= 2:
		return 15
	case totalTrades <= 5:
		return 10
	default:
		return 5
	}
}
