// Package regime derives categorical market-state labels from bar history.
package regime

import (
	"math"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/indicator"
)

// Label represents the directional market regime.
type Label string

const (
	Bull     Label = "bull"
	Bear     Label = "bear"
	Sideways Label = "sideways"
)

// VolBucket classifies realized volatility.
type VolBucket string

const (
	VolLow    VolBucket = "low"
	VolNormal VolBucket = "normal"
	VolHigh   VolBucket = "high"
)

// Trend thresholds: recent average must move this fraction versus the
// earlier average before the regime leaves sideways.
const trendThreshold = 0.05

// Volatility bucket boundaries, annualized.
const (
	volLowBound  = 0.10
	volHighBound = 0.25
)

// Snapshot is the market-state section of a decision context. It is
// computed only from bars at or before the decision timestamp, so it
// inherits the engine's no-lookahead guarantee.
type Snapshot struct {
	Label       Label     `json:"label"`
	VolBucket   VolBucket `json:"vol_bucket"`
	RealizedVol float64   `json:"realized_vol"` // annualized
	TrendChange float64   `json:"trend_change"` // recent vs earlier average close
}

// Detect computes a regime snapshot from a trailing bar window. Pure
// function of its input: no clock, no I/O. Bars must be in ascending
// time order. With fewer than 30 bars the label defaults to sideways
// with whatever volatility the window supports.
func Detect(bars []core.Bar, periodsPerYear float64) Snapshot {
	snap := Snapshot{
		Label:     Sideways,
		VolBucket: VolNormal,
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	snap.RealizedVol = realizedVol(closes, periodsPerYear)
	snap.VolBucket = bucketVol(snap.RealizedVol)

	if len(closes) < 30 {
		return snap
	}

	// Compare the last 10 closes against the 20 before them, the same
	// split the live monitoring side of this platform uses.
	recent := mean(closes[len(closes)-10:])
	earlier := mean(closes[len(closes)-30 : len(closes)-10])
	if earlier <= 0 {
		return snap
	}

	snap.TrendChange = (recent - earlier) / earlier
	switch {
	case snap.TrendChange > trendThreshold:
		snap.Label = Bull
	case snap.TrendChange < -trendThreshold:
		snap.Label = Bear
	}
	return snap
}

// realizedVol annualizes the standard deviation of close-to-close returns.
func realizedVol(closes []float64, periodsPerYear float64) float64 {
	returns := indicator.Returns(closes)
	if len(returns) < 2 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return indicator.StdDev(returns) * math.Sqrt(periodsPerYear)
}

func bucketVol(vol float64) VolBucket {
	switch {
	case vol < volLowBound:
		return VolLow
	case vol > volHighBound:
		return VolHigh
	default:
		return VolNormal
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
