// Package timeline builds per-timestamp decision contexts with a strict
// no-lookahead guarantee: a context constructed for time t only ever
// contains data stamped at or before t.
package timeline

import (
	"fmt"
	"time"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/regime"
)

// Budget is the capital a strategy may deploy at one decision step.
type Budget struct {
	Fraction float64 // fraction of total NAV allocated to the strategy
	Dollars  float64 // Fraction resolved against the current NAV
}

// Context is the snapshot a strategy sees at one decision timestamp.
// Every embedded bar satisfies Time <= Context.Time; the builder treats
// a violation as a fatal construction error because it would silently
// corrupt every downstream metric.
type Context struct {
	Time    time.Time
	Windows map[string][]core.Bar                 // fast-timeframe lookback per symbol
	Slow    map[string]map[core.Timeframe]core.Bar // forward-filled slower bars per symbol
	Regime  regime.Snapshot
	Budget  Budget
}

// Window returns the fast-timeframe lookback for a symbol.
func (c *Context) Window(symbol string) []core.Bar {
	return c.Windows[symbol]
}

// Closes extracts the close series of a symbol's fast window.
func (c *Context) Closes(symbol string) []float64 {
	bars := c.Windows[symbol]
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// LastClose returns the most recent close for a symbol, false when the
// symbol has no window.
func (c *Context) LastClose(symbol string) (float64, bool) {
	bars := c.Windows[symbol]
	if len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// SlowBar returns the forward-filled bar for a slower timeframe, false
// when none exists at or before the context time.
func (c *Context) SlowBar(symbol string, tf core.Timeframe) (core.Bar, bool) {
	m, ok := c.Slow[symbol]
	if !ok {
		return core.Bar{}, false
	}
	b, ok := m[tf]
	return b, ok
}

// validate asserts the no-lookahead invariant over every embedded bar.
func (c *Context) validate() error {
	for sym, bars := range c.Windows {
		for _, b := range bars {
			if b.Time.After(c.Time) {
				return core.WrapError(core.ErrLookahead,
					fmt.Errorf("%s/%s bar at %s inside context for %s",
						sym, b.Timeframe,
						b.Time.Format(time.RFC3339), c.Time.Format(time.RFC3339)))
			}
		}
	}
	for sym, m := range c.Slow {
		for tf, b := range m {
			if b.Time.After(c.Time) {
				return core.WrapError(core.ErrLookahead,
					fmt.Errorf("%s/%s slow bar at %s inside context for %s",
						sym, tf,
						b.Time.Format(time.RFC3339), c.Time.Format(time.RFC3339)))
			}
		}
	}
	return nil
}
