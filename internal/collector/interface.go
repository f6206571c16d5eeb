// Package collector defines the interface for market data sources used
// to seed the dataset store. Collectors fetch history on demand; they
// hold no state between calls.
package collector

import (
	"context"
	"time"

	"github.com/openquant/crucible/internal/core"
)

// Collector fetches historical bars from an external source.
type Collector interface {
	// Name returns the registry key, e.g. "yahoo".
	Name() string

	// FetchHistory returns bars for one symbol over [start, end] at the
	// given timeframe, oldest first. Rows the source reports as missing
	// are skipped, not zero-filled.
	FetchHistory(ctx context.Context, symbol string, start, end time.Time, timeframe core.Timeframe) ([]core.Bar, error)
}
