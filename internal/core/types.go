package core

import (
	"fmt"
	"time"
)

// Timeframe represents a bar interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// Duration returns the nominal length of one bar of this timeframe.
// Calendar timeframes use their trading-calendar approximation.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// PeriodsPerYear returns how many bars of this timeframe make one year,
// used to annualize returns. Daily and weekly assume a trading calendar;
// intraday assumes 24/7 markets (crypto), which is the conservative choice
// for annualization of equities intraday data.
func (tf Timeframe) PeriodsPerYear() float64 {
	switch tf {
	case Timeframe1m:
		return 365 * 24 * 60
	case Timeframe5m:
		return 365 * 24 * 12
	case Timeframe15m:
		return 365 * 24 * 4
	case Timeframe1h:
		return 365 * 24
	case Timeframe4h:
		return 365 * 6
	case Timeframe1d:
		return 252
	case Timeframe1w:
		return 52
	default:
		return 252
	}
}

// IsValid reports whether the timeframe is one of the known intervals.
func (tf Timeframe) IsValid() bool {
	return tf.Duration() > 0
}

// Bar represents one OHLCV candle for a symbol at a timeframe.
// Bars are immutable once stored.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks OHLC consistency: high must be at least max(open, close)
// and low at most min(open, close), all prices positive.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Time.IsZero() {
		return fmt.Errorf("bar %s has zero timestamp", b.Symbol)
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s@%s has non-positive price", b.Symbol, b.Time.Format(time.RFC3339))
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s@%s high %.6f below open/close", b.Symbol, b.Time.Format(time.RFC3339), b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar %s@%s low %.6f above open/close", b.Symbol, b.Time.Format(time.RFC3339), b.Low)
	}
	return nil
}

// Side represents the direction of a fill
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TargetWeights maps symbols to desired fractions of a strategy's budget.
// Symbols not present are implicitly zero. Negative weights request short
// exposure and are honored only when the portfolio constraints allow it.
type TargetWeights map[string]float64

// Weight returns the weight for a symbol, zero when absent.
func (w TargetWeights) Weight(symbol string) float64 {
	return w[symbol]
}

// Gross returns the sum of absolute weights.
func (w TargetWeights) Gross() float64 {
	var g float64
	for _, v := range w {
		if v < 0 {
			g -= v
		} else {
			g += v
		}
	}
	return g
}

// Clone returns an independent copy of the weights.
func (w TargetWeights) Clone() TargetWeights {
	c := make(TargetWeights, len(w))
	for k, v := range w {
		c[k] = v
	}
	return c
}

// Trade represents one executed simulated fill. Trades are append-only:
// created once by the executor and never mutated afterwards.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Time       time.Time `json:"time"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"` // always positive; Side carries direction
	Price      float64   `json:"price"`    // fill price after slippage
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"` // dollar cost of slippage vs reference price
	RealizedPL float64   `json:"realized_pl,omitempty"`
}

// Notional returns the absolute dollar value of the fill.
func (t Trade) Notional() float64 {
	return t.Quantity * t.Price
}

// NavSnapshot captures portfolio state after marking to market at one bar.
// The ordered sequence of snapshots is the NAV series.
type NavSnapshot struct {
	Time           time.Time `json:"time"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	NAV            float64   `json:"nav"`
}
