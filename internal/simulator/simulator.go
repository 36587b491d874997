package simulator

// Ledger de caja y posiciones con un único escritor.
//
// El simulador es dueño exclusivo de su mapa de posiciones y del saldo de
// caja. La ejecución de trades y las actualizaciones de precio mutan el
// estado vivo in situ; los snapshots del histórico son copias profundas que
// UpdatePrices añade una vez al día, así el cálculo posterior de métricas
// nunca apunta al estado vivo.
//
// Las restricciones de capital nunca lanzan errores: una orden impagable se
// encoge a la mayor cantidad asumible, y una imposible vuelve como un
// TradeRecord con Success=false y un motivo.

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// Config contiene los supuestos de sizing y costes del ledger. Se construye
// una vez al arrancar y se pasa explícita; el simulador no lee estado
// ambiente.
type Config struct {
	InitialCapital  float64
	PositionSizing  float64 // fracción de la cartera por posición nueva
	MaxPositionSize float64 // tope duro por posición, fracción de la cartera
	MaxPositions    int
	CashReserve     float64 // fracción de caja objetivo reportada en snapshots
	MinCashReserve  float64 // suelo de caja que el simulador se niega a desplegar
	TransactionCost float64
	Slippage        float64
}

// Simulator aplica decisiones de trading contra el ledger. No es seguro para
// uso concurrente: si el procesado por ticker se paraleliza, las ejecuciones
// deben canalizarse por un único llamador.
type Simulator struct {
	cfg       Config
	cash      float64
	positions map[string]*domain.Position
	current   domain.PortfolioState
	history   []domain.PortfolioState
	trades    []domain.TradeRecord
}

// New construye un simulador con todo el capital inicial en caja. El estado
// de apertura es la primera entrada del histórico.
func New(cfg Config, start time.Time) *Simulator {
	s := &Simulator{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*domain.Position),
	}
	s.current = domain.PortfolioState{
		TotalValue: cfg.InitialCapital,
		Cash:       cfg.InitialCapital,
		Positions:  map[string]*domain.Position{},
		Date:       domain.Day(start),
	}
	s.history = append(s.history, s.current.Clone())

	slog.Info("sim: initialized",
		"capital", fmt.Sprintf("$%.2f", cfg.InitialCapital),
		"position_sizing", fmt.Sprintf("%.1f%%", cfg.PositionSizing*100),
		"min_cash_reserve", fmt.Sprintf("%.1f%%", cfg.MinCashReserve*100),
		"transaction_cost", fmt.Sprintf("%.3f%%", cfg.TransactionCost*100),
	)
	return s
}

// State devuelve una copia profunda del estado actual de la cartera.
func (s *Simulator) State() domain.PortfolioState {
	return s.current.Clone()
}

// History devuelve la lista de snapshots diarios. El slice se comparte; las
// entradas ya son copias profundas y no deben mutarse.
func (s *Simulator) History() []domain.PortfolioState {
	return s.history
}

// Trades devuelve los registros de auditoría acumulados. Las órdenes
// rechazadas se devuelven al llamador pero nunca se añaden.
func (s *Simulator) Trades() []domain.TradeRecord {
	return s.trades
}

// ExecuteTrade aplica una decisión al ledger y devuelve su registro de
// auditoría. Los rechazos (sin caja, sin posición) devuelven Success=false
// sin mutar estado.
func (s *Simulator) ExecuteTrade(ticker string, side domain.TradeSide, price, confidence float64, reasoning string, date time.Time) domain.TradeRecord {
	before := s.current.Clone()

	if side == domain.SideHold {
		rec := s.record(date, ticker, domain.SideHold, 0, price, confidence, reasoning, before, true, "")
		s.trades = append(s.trades, rec)
		return rec
	}

	quantity := s.positionSize(ticker, price, confidence)

	switch side {
	case domain.SideBuy:
		return s.executeBuy(ticker, quantity, price, confidence, reasoning, date, before)
	case domain.SideSell:
		return s.executeSell(ticker, quantity, price, confidence, reasoning, date, before)
	default:
		return s.record(date, ticker, side, 0, price, confidence, reasoning, before, false,
			fmt.Sprintf("invalid trade side %q", side))
	}
}

// positionSize convierte una decisión en número de acciones: una fracción
// base del valor de la cartera escalada por confianza (0.5 con confianza
// cero, 1.0 con plena; el suelo es deliberado), con clamp entre el 1% de la
// cartera y el tamaño máximo de posición.
func (s *Simulator) positionSize(ticker string, price, confidence float64) int {
	if price <= 0 || math.IsNaN(price) {
		slog.Warn("sim: invalid price for sizing", "ticker", ticker, "price", price)
		return 0
	}
	if math.IsNaN(confidence) {
		confidence = 0.5
	}

	baseSize := s.current.TotalValue * s.cfg.PositionSizing
	multiplier := 0.5 + 0.5*confidence
	shares := int(baseSize * multiplier / price)

	maxShares := int(s.current.TotalValue * s.cfg.MaxPositionSize / price)
	if shares > maxShares {
		shares = maxShares
	}

	minShares := int(s.current.TotalValue * 0.01 / price)
	if minShares < 1 {
		minShares = 1
	}
	if shares < minShares {
		shares = minShares
	}

	return shares
}

func (s *Simulator) executeBuy(ticker string, quantity int, price, confidence float64, reasoning string, date time.Time, before domain.PortfolioState) domain.TradeRecord {
	if _, held := s.positions[ticker]; !held && s.cfg.MaxPositions > 0 && len(s.positions) >= s.cfg.MaxPositions {
		return s.record(date, ticker, domain.SideBuy, 0, price, confidence, reasoning, before, false,
			fmt.Sprintf("position limit reached (%d)", s.cfg.MaxPositions))
	}

	perShare := price * (1 + s.cfg.TransactionCost + s.cfg.Slippage)
	totalCost := float64(quantity) * perShare

	reason := ""
	available := s.availableCash()
	if available < totalCost {
		// Encoger a la mayor orden asumible en vez de rechazar.
		affordable := 0
		if perShare > 0 && !math.IsNaN(perShare) {
			affordable = int(available / perShare)
		}
		if affordable <= 0 {
			return s.record(date, ticker, domain.SideBuy, 0, price, confidence, reasoning, before, false,
				fmt.Sprintf("insufficient cash: required $%.2f, available $%.2f", totalCost, available))
		}
		quantity = affordable
		totalCost = float64(quantity) * perShare
		reason = fmt.Sprintf("partial execution: %d shares (insufficient cash for full order)", quantity)
	}

	s.cash -= totalCost

	if pos, held := s.positions[ticker]; held {
		pos.AddLot(quantity, price, date)
	} else {
		s.positions[ticker] = domain.NewPosition(ticker, quantity, price, date)
	}

	s.refreshState(date)

	rec := s.record(date, ticker, domain.SideBuy, quantity, price, confidence, reasoning, before, true, reason)
	s.trades = append(s.trades, rec)

	slog.Info("sim: BUY",
		"ticker", ticker,
		"shares", quantity,
		"price", fmt.Sprintf("$%.2f", price),
		"cost", fmt.Sprintf("$%.2f", totalCost),
	)
	return rec
}

func (s *Simulator) executeSell(ticker string, quantity int, price, confidence float64, reasoning string, date time.Time, before domain.PortfolioState) domain.TradeRecord {
	pos, held := s.positions[ticker]
	if !held {
		return s.record(date, ticker, domain.SideSell, 0, price, confidence, reasoning, before, false,
			fmt.Sprintf("no position in %s to sell", ticker))
	}

	reason := "full sell order executed"
	if quantity > pos.Quantity {
		quantity = pos.Quantity
		reason = fmt.Sprintf("partial sell: %d shares (insufficient shares for full order)", quantity)
	}

	value := float64(quantity) * price
	netProceeds := value * (1 - s.cfg.TransactionCost - s.cfg.Slippage)

	s.cash += netProceeds
	pos.Reduce(quantity, price, date)
	if pos.Quantity == 0 {
		delete(s.positions, ticker)
	}

	s.refreshState(date)

	rec := s.record(date, ticker, domain.SideSell, quantity, price, confidence, reasoning, before, true, reason)
	s.trades = append(s.trades, rec)

	slog.Info("sim: SELL",
		"ticker", ticker,
		"shares", quantity,
		"price", fmt.Sprintf("$%.2f", price),
		"proceeds", fmt.Sprintf("$%.2f", netProceeds),
	)
	return rec
}

// UpdatePrices re-marca cada ticker en cartera con su precio de cierre,
// recalcula el estado y añade el snapshot canónico del día al histórico.
// Los marcados inválidos (NaN o no positivos) se saltan.
func (s *Simulator) UpdatePrices(closes map[string]float64, date time.Time) domain.PortfolioState {
	for ticker, price := range closes {
		if math.IsNaN(price) || price <= 0 {
			slog.Warn("sim: skipping invalid price update", "ticker", ticker, "price", price)
			continue
		}
		if pos, held := s.positions[ticker]; held {
			pos.UpdatePrice(price, date)
		}
	}

	s.refreshState(date)
	s.history = append(s.history, s.current.Clone())
	return s.current.Clone()
}

// availableCash es lo que el suelo de reserva deja libre para desplegar.
func (s *Simulator) availableCash() float64 {
	requiredReserve := s.current.TotalValue * s.cfg.MinCashReserve
	return s.cash - requiredReserve
}

// refreshState recalcula el estado vivo. El valor total siempre se deriva de
// caja más posiciones marcadas, nunca se cachea entre actualizaciones.
func (s *Simulator) refreshState(date time.Time) {
	positionsValue := 0.0
	totalPnL := 0.0
	for _, pos := range s.positions {
		positionsValue += pos.MarketValue()
		totalPnL += pos.UnrealizedPnL + pos.RealizedPnL
	}
	totalValue := s.cash + positionsValue

	dailyReturn := 0.0
	if len(s.history) > 0 {
		prev := s.history[len(s.history)-1].TotalValue
		if prev > 0 && !math.IsNaN(prev) && !math.IsNaN(totalValue) {
			dailyReturn = (totalValue - prev) / prev
			if math.IsNaN(dailyReturn) {
				dailyReturn = 0
			}
		}
	}

	cashReserve := totalValue * s.cfg.CashReserve

	s.current = domain.PortfolioState{
		TotalValue:       totalValue,
		Cash:             s.cash,
		Positions:        s.positions,
		Date:             domain.Day(date),
		DailyReturn:      dailyReturn,
		TotalPnL:         totalPnL,
		CashReserve:      cashReserve,
		AvailableCapital: s.cash - cashReserve,
	}
}

// record monta un registro de auditoría inmutable con snapshots antes/después.
func (s *Simulator) record(date time.Time, ticker string, side domain.TradeSide, quantity int, price, confidence float64, reasoning string, before domain.PortfolioState, success bool, reason string) domain.TradeRecord {
	value := float64(quantity) * price
	cost := value * s.cfg.TransactionCost
	slip := value * s.cfg.Slippage

	return domain.TradeRecord{
		Date:            domain.Day(date),
		Ticker:          ticker,
		Side:            side,
		Quantity:        quantity,
		Price:           price,
		Value:           value,
		TransactionCost: cost,
		Slippage:        slip,
		TotalCost:       value + cost + slip,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Before:          before,
		After:           s.current.Clone(),
		Success:         success,
		Reason:          reason,
	}
}
