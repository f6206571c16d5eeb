package backtest

import (
	"fmt"

	"github.com/openquant/crucible/internal/portfolio"
)

// FillPolicy determines which price a decision's fills execute at.
type FillPolicy string

const (
	// FillNextOpen queues orders at the decision bar and fills them at
	// the next bar's open. This is the honest default: a decision made
	// on a close cannot transact at that same close.
	FillNextOpen FillPolicy = "next_open"
	// FillSameClose fills orders immediately at the decision bar's
	// close. Optimistic, useful for quick comparisons.
	FillSameClose FillPolicy = "same_close"
)

// Config holds the execution model for a run. It is fixed at run start
// and recorded in the Result so every fill is reproducible.
type Config struct {
	// InitialCash is the starting balance.
	InitialCash float64 `json:"initial_cash" mapstructure:"initial_cash"`
	// SlippageBps moves every fill against the trade direction, in
	// basis points of the reference price.
	SlippageBps float64 `json:"slippage_bps" mapstructure:"slippage_bps"`
	// CommissionBps is charged on every fill's notional.
	CommissionBps float64 `json:"commission_bps" mapstructure:"commission_bps"`
	// CommissionMin is the minimum commission per fill, 0 disables it.
	CommissionMin float64 `json:"commission_min" mapstructure:"commission_min"`
	// FillPolicy selects next_open or same_close execution.
	FillPolicy FillPolicy `json:"fill_policy" mapstructure:"fill_policy"`
	// RebalanceBand re-issues orders when an actual weight drifts this
	// far from its target even though targets did not change. 0 means
	// positions only trade on target changes.
	RebalanceBand float64 `json:"rebalance_band" mapstructure:"rebalance_band"`
	// Constraints bound the weights a strategy may request.
	Constraints portfolio.Constraints `json:"constraints" mapstructure:"constraints"`
}

// DefaultConfig returns the execution model used when none is given:
// $100k book, 5 bps slippage, 10 bps commission, next-open fills,
// long-only fully-invested constraints.
func DefaultConfig() Config {
	return Config{
		InitialCash:   100_000,
		SlippageBps:   5,
		CommissionBps: 10,
		CommissionMin: 0,
		FillPolicy:    FillNextOpen,
		RebalanceBand: 0,
		Constraints:   portfolio.DefaultConstraints(),
	}
}

// Validate rejects configs the executor cannot run.
func (c Config) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash %f must be positive", c.InitialCash)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("slippage %f bps is negative", c.SlippageBps)
	}
	if c.CommissionBps < 0 {
		return fmt.Errorf("commission %f bps is negative", c.CommissionBps)
	}
	if c.CommissionMin < 0 {
		return fmt.Errorf("minimum commission %f is negative", c.CommissionMin)
	}
	if c.FillPolicy != FillNextOpen && c.FillPolicy != FillSameClose {
		return fmt.Errorf("unknown fill policy %q", c.FillPolicy)
	}
	if c.RebalanceBand < 0 {
		return fmt.Errorf("rebalance band %f is negative", c.RebalanceBand)
	}
	return c.Constraints.Validate()
}
