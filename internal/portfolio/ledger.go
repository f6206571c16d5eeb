// Package portfolio tracks cash, positions and realized P&L for one
// simulated run. A Ledger is owned by exactly one executor and is not
// safe for concurrent use; parallel searches give every run its own.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openquant/crucible/internal/core"
)

// quantity below this is treated as flat after a reducing fill
const dustQuantity = 1e-12

// Position is the current holding in one symbol. Quantity is signed:
// negative means short.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	AvgCost    float64 `json:"avg_cost"`
	LastPrice  float64 `json:"last_price"`
	RealizedPL float64 `json:"realized_pl"`
}

// MarketValue returns quantity times the last seen price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}

// CostBasis returns quantity times the weighted average entry price.
func (p Position) CostBasis() float64 {
	return p.Quantity * p.AvgCost
}

// UnrealizedPL returns market value minus cost basis. The sign works
// out for shorts because both terms are negative.
func (p Position) UnrealizedPL() float64 {
	return p.MarketValue() - p.CostBasis()
}

// Fill is one execution the ledger must account for. Quantity is always
// positive; Side carries direction. Price is the actual execution price
// with slippage already applied, Slippage records its dollar cost
// against the reference price for reporting.
type Fill struct {
	Symbol     string
	Time       time.Time
	Side       core.Side
	Quantity   float64
	Price      float64
	Commission float64
	Slippage   float64
}

// Ledger is the deterministic accounting core of a run: every fill
// flows through ApplyFill, every bar ends with MarkToMarket, and
// Reconcile cross-checks the books against the cash-flow identity.
type Ledger struct {
	initialCash float64
	cash        float64
	commissions float64
	realized    float64
	positions   map[string]*Position
	trades      []core.Trade
}

// NewLedger creates a ledger holding only cash.
func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// InitialCash returns the starting balance.
func (l *Ledger) InitialCash() float64 { return l.initialCash }

// RealizedPL returns cumulative realized P&L across all symbols,
// before commissions.
func (l *Ledger) RealizedPL() float64 { return l.realized }

// Commissions returns cumulative commission paid.
func (l *Ledger) Commissions() float64 { return l.commissions }

// Position returns the holding for a symbol, false when the ledger has
// never traded it.
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns all non-flat holdings sorted by symbol.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns the append-only trade log in execution order.
func (l *Ledger) Trades() []core.Trade { return l.trades }

// ApplyFill updates cash and the position for one fill and appends the
// resulting trade. Buys that add to a position move the weighted
// average cost; sells against a long (or buys against a short) realize
// P&L on the closed quantity at the unchanged average cost; a fill that
// crosses through zero opens the remainder at the fill price.
func (l *Ledger) ApplyFill(f Fill) (core.Trade, error) {
	if f.Quantity <= 0 {
		return core.Trade{}, fmt.Errorf("fill for %s has non-positive quantity %f", f.Symbol, f.Quantity)
	}
	if f.Price <= 0 {
		return core.Trade{}, fmt.Errorf("fill for %s has non-positive price %f", f.Symbol, f.Price)
	}

	signed := f.Quantity
	if f.Side == core.SideSell {
		signed = -f.Quantity
	}

	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}

	oldQty := pos.Quantity
	var realized float64

	switch {
	case oldQty == 0 || (oldQty > 0) == (signed > 0):
		// opening or adding in the same direction
		totalCost := math.Abs(oldQty)*pos.AvgCost + f.Quantity*f.Price
		pos.Quantity = oldQty + signed
		pos.AvgCost = totalCost / math.Abs(pos.Quantity)
	default:
		closed := math.Min(math.Abs(oldQty), f.Quantity)
		if oldQty > 0 {
			realized = (f.Price - pos.AvgCost) * closed
		} else {
			realized = (pos.AvgCost - f.Price) * closed
		}
		pos.Quantity = oldQty + signed
		if math.Abs(pos.Quantity) < dustQuantity {
			pos.Quantity = 0
			pos.AvgCost = 0
		} else if (pos.Quantity > 0) == (signed > 0) {
			// crossed through zero: remainder is a fresh position
			pos.AvgCost = f.Price
		}
	}

	pos.RealizedPL += realized
	pos.LastPrice = f.Price
	l.realized += realized
	l.cash -= signed * f.Price
	l.cash -= f.Commission
	l.commissions += f.Commission

	trade := core.Trade{
		Symbol:     f.Symbol,
		Time:       f.Time,
		Side:       f.Side,
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
		Slippage:   f.Slippage,
		RealizedPL: realized,
	}
	l.trades = append(l.trades, trade)
	return trade, nil
}

// MarkToMarket values every open position at the given prices and
// returns the NAV snapshot for the timestamp. A held symbol without a
// usable price is a fatal accounting error.
func (l *Ledger) MarkToMarket(t time.Time, prices map[string]float64) (core.NavSnapshot, error) {
	var positionsValue float64
	for sym, pos := range l.positions {
		if pos.Quantity == 0 {
			continue
		}
		px, ok := prices[sym]
		if !ok || px <= 0 {
			return core.NavSnapshot{}, core.WrapError(core.ErrMissingPrice,
				fmt.Errorf("held position %s (qty %f) has no price at %s",
					sym, pos.Quantity, t.Format(time.RFC3339)))
		}
		pos.LastPrice = px
		positionsValue += pos.Quantity * px
	}

	return core.NavSnapshot{
		Time:           t,
		Cash:           l.cash,
		PositionsValue: positionsValue,
		NAV:            l.cash + positionsValue,
	}, nil
}

// Reconcile asserts the cash-flow identity
//
//	cash + cost basis == initial cash + realized P&L - commissions
//
// which every sequence of fills must preserve exactly up to float
// rounding. A breach means the ledger math is corrupt, so the caller
// must abort the run.
func (l *Ledger) Reconcile() error {
	var costBasis float64
	for _, pos := range l.positions {
		costBasis += pos.Quantity * pos.AvgCost
	}
	got := l.cash + costBasis
	want := l.initialCash + l.realized - l.commissions

	tol := 1e-6 * math.Max(1, math.Max(math.Abs(got), math.Abs(want)))
	if math.Abs(got-want) > tol {
		return core.WrapError(core.ErrNavMismatch,
			fmt.Errorf("cash %.6f + cost basis %.6f = %.6f, cash-flow identity expects %.6f",
				l.cash, costBasis, got, want))
	}
	return nil
}
