package domain

import "time"

// PortfolioMetrics es el resumen de reporting a nivel cartera, recalculable
// en cualquier momento desde el histórico de estados y el log de trades.
type PortfolioMetrics struct {
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	CalmarRatio          float64 `json:"calmar_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	DrawdownDuration     int     `json:"drawdown_duration"`
	Volatility           float64 `json:"volatility"`
	WinRate              float64 `json:"win_rate"`
	ProfitFactor         float64 `json:"profit_factor"`
	TotalTrades          int     `json:"total_trades"`
	AvgTradeReturn       float64 `json:"avg_trade_return"`
	BestTrade            float64 `json:"best_trade"`
	WorstTrade           float64 `json:"worst_trade"`
	AvgHoldTime          float64 `json:"avg_hold_time"`
	CashDrag             float64 `json:"cash_drag"`
	DiversificationScore float64 `json:"diversification_score"`
}

// TickerMetrics replica PortfolioMetrics para la porción del run de un ticker.
type TickerMetrics struct {
	Ticker                  string  `json:"ticker"`
	TotalReturn             float64 `json:"total_return"`
	AnnualizedReturn        float64 `json:"annualized_return"`
	SharpeRatio             float64 `json:"sharpe_ratio"`
	SortinoRatio            float64 `json:"sortino_ratio"`
	CalmarRatio             float64 `json:"calmar_ratio"`
	MaxDrawdown             float64 `json:"max_drawdown"`
	DrawdownDuration        int     `json:"drawdown_duration"`
	Volatility              float64 `json:"volatility"`
	WinRate                 float64 `json:"win_rate"`
	AvgWin                  float64 `json:"avg_win"`
	AvgLoss                 float64 `json:"avg_loss"`
	ProfitFactor            float64 `json:"profit_factor"`
	ContributionToPortfolio float64 `json:"contribution_to_portfolio"`
	NumTrades               int     `json:"num_trades"`
	AvgHoldTime             float64 `json:"avg_hold_time"`
}

// DailyMetrics es el rollup por día usado para reporting y gráficas.
type DailyMetrics struct {
	Date             time.Time `json:"date"`
	PortfolioValue   float64   `json:"portfolio_value"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	Cash             float64   `json:"cash"`
	PositionsValue   float64   `json:"positions_value"`
	TotalPnL         float64   `json:"total_pnl"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnL      float64   `json:"realized_pnl"`
	NumPositions     int       `json:"num_positions"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	Volatility       float64   `json:"volatility"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	SortinoRatio     float64   `json:"sortino_ratio"`
}

// RunSummary es el registro condensado de un backtest completado, persistido
// en el índice de runs para comparar entre ejecuciones.
type RunSummary struct {
	ID             string
	StartedAt      time.Time
	StartDate      time.Time
	EndDate        time.Time
	Tickers        []string
	InitialCapital float64
	FinalValue     float64
	TotalReturn    float64
	SharpeRatio    float64
	MaxDrawdown    float64

	// TotalDecisions cuenta toda decisión agregada (incluidos los HOLD);
	// SuccessRate es la fracción de ellas que terminó en trade ejecutado.
	TotalDecisions int
	SuccessRate    float64
	OutputDir      string
}
