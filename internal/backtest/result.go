package backtest

import (
	"time"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/portfolio"
)

// State is the lifecycle phase of a run.
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateRunning     State = "RUNNING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// Diagnostic records a non-fatal event during a run: a skipped step, a
// clamped weight, a cancelled order. Diagnostics never change the
// simulation, they explain it.
type Diagnostic struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol,omitempty"`
	Reason string    `json:"reason"`
}

// Result is the complete output of one run, including everything
// needed to reproduce it: strategy name and parameters, data range,
// and the execution config that shaped the fills.
type Result struct {
	RunID     string         `json:"run_id"`
	Strategy  string         `json:"strategy"`
	Params    map[string]any `json:"params,omitempty"`
	Universe  []string       `json:"universe"`
	Timeframe core.Timeframe `json:"timeframe"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Config    Config         `json:"config"`

	State State  `json:"state"`
	Error string `json:"error,omitempty"`

	NAV         []core.NavSnapshot   `json:"nav"`
	Trades      []core.Trade         `json:"trades"`
	Positions   []portfolio.Position `json:"positions"` // open positions at run end
	Diagnostics []Diagnostic         `json:"diagnostics,omitempty"`
	Stats       Stats                `json:"stats"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FinalNAV returns the last snapshot's NAV, or the initial cash when
// the run produced no snapshots.
func (r *Result) FinalNAV() float64 {
	if len(r.NAV) == 0 {
		return r.Config.InitialCash
	}
	return r.NAV[len(r.NAV)-1].NAV
}

// TotalReturn returns the fractional return over the run.
func (r *Result) TotalReturn() float64 {
	if r.Config.InitialCash == 0 {
		return 0
	}
	return r.FinalNAV()/r.Config.InitialCash - 1
}
