package domain

import "time"

// TradeSide es el lado ejecutado de una orden.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
	SideHold TradeSide = "HOLD"
)

// PositionStatus es el estado del ciclo de vida de la posición de un ticker.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionPartial PositionStatus = "PARTIAL"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position es la tenencia actual de un ticker. La muta exclusivamente el
// simulador; se elimina del mapa de posiciones cuando la cantidad llega a cero.
type Position struct {
	Ticker        string
	Quantity      int
	AvgPrice      float64
	MarkPrice     float64
	Status        PositionStatus
	UnrealizedPnL float64
	RealizedPnL   float64
	LastUpdated   time.Time
}

// NewPosition abre una posición al precio dado.
func NewPosition(ticker string, quantity int, price float64, at time.Time) *Position {
	p := &Position{
		Ticker:      ticker,
		Quantity:    quantity,
		AvgPrice:    price,
		MarkPrice:   price,
		Status:      PositionOpen,
		LastUpdated: at,
	}
	p.recalc()
	return p
}

// MarketValue es cantidad × precio de marcado actual.
func (p *Position) MarketValue() float64 {
	return float64(p.Quantity) * p.MarkPrice
}

// UpdatePrice re-marca la posición y recalcula el P&L no realizado.
func (p *Position) UpdatePrice(price float64, at time.Time) {
	p.MarkPrice = price
	p.LastUpdated = at
	p.recalc()
}

// AddLot incorpora una compra nueva a la posición, recalculando el coste
// medio ponderado.
func (p *Position) AddLot(quantity int, price float64, at time.Time) {
	totalCost := float64(p.Quantity)*p.AvgPrice + float64(quantity)*price
	p.Quantity += quantity
	p.AvgPrice = totalCost / float64(p.Quantity)
	p.UpdatePrice(p.MarkPrice, at)
}

// Reduce vende quantity acciones a price, realizando P&L contra el coste
// medio. Pasa a CLOSED si se liquida entera, a PARTIAL en caso contrario.
func (p *Position) Reduce(quantity int, price float64, at time.Time) {
	if quantity >= p.Quantity {
		p.RealizedPnL += (price - p.AvgPrice) * float64(p.Quantity)
		p.Quantity = 0
		p.Status = PositionClosed
	} else {
		p.RealizedPnL += (price - p.AvgPrice) * float64(quantity)
		p.Quantity -= quantity
		p.Status = PositionPartial
	}
	p.UpdatePrice(price, at)
}

func (p *Position) recalc() {
	p.UnrealizedPnL = (p.MarkPrice - p.AvgPrice) * float64(p.Quantity)
}

// clone devuelve una copia independiente para los snapshots.
func (p *Position) clone() *Position {
	cp := *p
	return &cp
}

// PortfolioState es el snapshot de un día del ledger. Las entradas del
// histórico son copias profundas, nunca alias del estado vivo del simulador.
type PortfolioState struct {
	TotalValue       float64
	Cash             float64
	Positions        map[string]*Position
	Date             time.Time
	DailyReturn      float64
	TotalPnL         float64
	CashReserve      float64
	AvailableCapital float64
}

// PositionsValue suma el valor de mercado de todas las posiciones.
func (s PortfolioState) PositionsValue() float64 {
	total := 0.0
	for _, pos := range s.Positions {
		total += pos.MarketValue()
	}
	return total
}

// Clone copia en profundidad el estado, incluidas todas las posiciones.
func (s PortfolioState) Clone() PortfolioState {
	cp := s
	cp.Positions = make(map[string]*Position, len(s.Positions))
	for ticker, pos := range s.Positions {
		cp.Positions[ticker] = pos.clone()
	}
	return cp
}

// TradeRecord es el registro de auditoría inmutable de una orden ejecutada o
// rechazada. Append-only; las decisiones HOLD producen registros de cantidad
// cero por simetría de auditoría.
type TradeRecord struct {
	Date            time.Time
	Ticker          string
	Side            TradeSide
	Quantity        int
	Price           float64
	Value           float64
	TransactionCost float64
	Slippage        float64
	TotalCost       float64
	Confidence      float64
	Reasoning       string
	Before          PortfolioState
	After           PortfolioState
	Success         bool
	Reason          string
}
