// Package notifier delivers run-completion events to external channels.
package notifier

import (
	"context"
	"time"
)

// Event summarizes a finished run for delivery. Stats fields are zero
// for failed runs.
type Event struct {
	Kind        string    `json:"kind"` // backtest, walkforward, evolution
	RunID       string    `json:"run_id"`
	Strategy    string    `json:"strategy"`
	Symbols     []string  `json:"symbols,omitempty"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	TotalReturn float64   `json:"total_return"`
	CAGR        float64   `json:"cagr"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	Alerts      []string  `json:"alerts,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Notifier defines the interface for run notification.
type Notifier interface {
	// Name returns the unique identifier for this notifier.
	Name() string

	// Send delivers a single run event.
	Send(ctx context.Context, ev Event) error
}
