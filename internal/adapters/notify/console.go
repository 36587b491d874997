package notify

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console imprime los resultados de un run de backtest en stdout.
type Console struct {
	out io.Writer
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintResults imprime el informe completo del run: métricas de cartera,
// desglose por ticker, últimos trades y veredicto.
func (c *Console) PrintResults(summary domain.RunSummary, portfolio domain.PortfolioMetrics,
	tickers map[string]domain.TickerMetrics, trades []domain.TradeRecord) {

	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  BACKTEST RESULTS  [%s]\n", summary.ID)
	fmt.Fprintf(c.out, "  %s to %s\n",
		summary.StartDate.Format("2006-01-02"),
		summary.EndDate.Format("2006-01-02"))
	fmt.Fprintf(c.out, "========================================================\n\n")

	c.printPortfolio(summary, portfolio)
	c.printTickers(tickers)
	c.printTrades(trades)
	c.printVerdict(portfolio)

	fmt.Fprintf(c.out, "  Run artifacts: %s\n\n", summary.OutputDir)
}

// printPortfolio imprime el bloque agregado de la cartera.
func (c *Console) printPortfolio(summary domain.RunSummary, m domain.PortfolioMetrics) {
	fmt.Fprintf(c.out, "  --- PORTFOLIO ---\n")
	fmt.Fprintf(c.out, "  Initial capital:    $%.2f\n", summary.InitialCapital)
	fmt.Fprintf(c.out, "  Final value:        $%.2f\n", summary.FinalValue)
	fmt.Fprintf(c.out, "  Total return:       %.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(c.out, "  Annualized return:  %.2f%%\n", m.AnnualizedReturn*100)
	fmt.Fprintf(c.out, "  Volatility:         %.2f%%\n", m.Volatility*100)
	fmt.Fprintf(c.out, "  Sharpe ratio:       %.2f\n", m.SharpeRatio)
	fmt.Fprintf(c.out, "  Sortino ratio:      %s\n", ratioLabel(m.SortinoRatio))
	fmt.Fprintf(c.out, "  Calmar ratio:       %.2f\n", m.CalmarRatio)
	fmt.Fprintf(c.out, "  Max drawdown:       %.2f%% (%d days)\n", m.MaxDrawdown*100, m.DrawdownDuration)
	fmt.Fprintf(c.out, "  Trades:             %d (win rate %.1f%%)\n", m.TotalTrades, m.WinRate*100)
	fmt.Fprintf(c.out, "  Profit factor:      %s\n", ratioLabel(m.ProfitFactor))
	fmt.Fprintf(c.out, "  Cash drag:          %.1f%%\n", m.CashDrag*100)
	fmt.Fprintf(c.out, "  Diversification:    %.2f\n\n", m.DiversificationScore)
}

// printTickers imprime la tabla por ticker, ordenada por retorno desc.
func (c *Console) printTickers(tickers map[string]domain.TickerMetrics) {
	if len(tickers) == 0 {
		return
	}

	names := make([]string, 0, len(tickers))
	for name := range tickers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return tickers[names[i]].TotalReturn > tickers[names[j]].TotalReturn
	})

	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "Return", "Sharpe", "MaxDD", "WinRate", "Trades", "Contrib", "Hold(d)")

	for _, name := range names {
		m := tickers[name]
		table.Append(
			m.Ticker,
			fmt.Sprintf("%.2f%%", m.TotalReturn*100),
			fmt.Sprintf("%.2f", m.SharpeRatio),
			fmt.Sprintf("%.2f%%", m.MaxDrawdown*100),
			fmt.Sprintf("%.1f%%", m.WinRate*100),
			fmt.Sprintf("%d", m.NumTrades),
			fmt.Sprintf("%.1f%%", m.ContributionToPortfolio*100),
			fmt.Sprintf("%.0f", m.AvgHoldTime),
		)
	}

	table.Render()
	fmt.Fprintln(c.out, "  Contrib = peso de la posición final sobre el valor total de la cartera")
	fmt.Fprintln(c.out)
}

// printTrades imprime los últimos trades ejecutados con éxito.
func (c *Console) printTrades(trades []domain.TradeRecord) {
	executed := make([]domain.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.Success && t.Side != domain.SideHold {
			executed = append(executed, t)
		}
	}
	if len(executed) == 0 {
		fmt.Fprintln(c.out, "  No trades executed during the run.")
		fmt.Fprintln(c.out)
		return
	}

	const maxShown = 10
	shown := executed
	if len(shown) > maxShown {
		shown = shown[len(shown)-maxShown:]
	}
	fmt.Fprintf(c.out, "  --- LAST TRADES (%d of %d) ---\n", len(shown), len(executed))

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Ticker", "Side", "Qty", "Price", "Value", "Cost", "Conf")

	for _, t := range shown {
		table.Append(
			t.Date.Format("2006-01-02"),
			t.Ticker,
			string(t.Side),
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("$%.2f", t.Price),
			fmt.Sprintf("$%.2f", t.Value),
			fmt.Sprintf("$%.2f", t.TransactionCost+t.Slippage),
			fmt.Sprintf("%.2f", t.Confidence),
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// printVerdict resume si la estrategia se sostiene con estos números.
func (c *Console) printVerdict(m domain.PortfolioMetrics) {
	fmt.Fprintf(c.out, "  --- VERDICT ---\n")
	switch {
	case m.TotalTrades == 0:
		fmt.Fprintf(c.out, "  INCONCLUSIVE: the strategy never traded in this window.\n")
	case m.TotalReturn > 0 && m.SharpeRatio >= 1:
		fmt.Fprintf(c.out, "  POSITIVE: net profitable with acceptable risk-adjusted returns.\n")
	case m.TotalReturn > 0:
		fmt.Fprintf(c.out, "  MARGINAL: profitable, but the Sharpe ratio (%.2f) suggests the\n", m.SharpeRatio)
		fmt.Fprintf(c.out, "  returns do not compensate the volatility taken.\n")
	default:
		fmt.Fprintf(c.out, "  NEGATIVE: the strategy lost money over the period.\n")
		fmt.Fprintf(c.out, "  Review expert signals before widening the ticker universe.\n")
	}
	fmt.Fprintln(c.out)
}

// PrintRecentRuns imprime el histórico de runs guardado en el índice.
func (c *Console) PrintRecentRuns(runs []domain.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintf(c.out, "[%s] no previous runs recorded\n", time.Now().Format("15:04:05"))
		return
	}

	fmt.Fprintf(c.out, "\n  --- RECENT RUNS ---\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "Period", "Tickers", "Return", "Sharpe", "MaxDD", "Decisions")

	for _, r := range runs {
		table.Append(
			r.StartedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%s→%s", r.StartDate.Format("01-02"), r.EndDate.Format("01-02")),
			fmt.Sprintf("%d", len(r.Tickers)),
			fmt.Sprintf("%.2f%%", r.TotalReturn*100),
			fmt.Sprintf("%.2f", r.SharpeRatio),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
			fmt.Sprintf("%d", r.TotalDecisions),
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// ratioLabel formatea ratios que pueden ser infinitos legítimamente.
func ratioLabel(v float64) string {
	if math.IsInf(v, 1) {
		return "INF"
	}
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}
