package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/openquant/crucible/internal/core"
)

// composite score weights
const (
	compositeSharpe  = 0.40
	compositeCAGR    = 0.30
	compositeWinRate = 0.20
	compositeMaxDD   = 0.10
)

// Stats is the performance profile of a run. All fields are pure
// functions of the NAV series and the trade log, so two runs with
// identical outputs always score identically.
type Stats struct {
	CAGR          float64 `json:"cagr"`
	Sharpe        float64 `json:"sharpe"`
	MaxDrawdown   float64 `json:"max_drawdown"` // positive magnitude, fraction of peak
	WinRate       float64 `json:"win_rate"`     // fraction of realizing trades that gained
	Composite     float64 `json:"composite"`
	TotalReturn   float64 `json:"total_return"`
	Volatility    float64 `json:"volatility"` // annualized std of per-bar returns
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
}

// CalculateStats computes performance statistics from a NAV series and
// trade log. A run with no trades or a flat NAV yields zero Sharpe and
// zero CAGR, never NaN, so downstream scoring stays total.
func CalculateStats(nav []core.NavSnapshot, trades []core.Trade) Stats {
	s := Stats{TotalTrades: len(trades)}

	for _, t := range trades {
		if t.RealizedPL > 0 {
			s.WinningTrades++
		} else if t.RealizedPL < 0 {
			s.LosingTrades++
		}
	}
	if realizing := s.WinningTrades + s.LosingTrades; realizing > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(realizing)
	}

	if len(nav) >= 2 && nav[0].NAV > 0 {
		final := nav[len(nav)-1].NAV
		s.TotalReturn = final/nav[0].NAV - 1

		returns := make([]float64, 0, len(nav)-1)
		for i := 1; i < len(nav); i++ {
			if nav[i-1].NAV == 0 {
				returns = append(returns, 0)
				continue
			}
			returns = append(returns, nav[i].NAV/nav[i-1].NAV-1)
		}

		ppy := periodsPerYear(nav)
		mean, std := stat.MeanStdDev(returns, nil)
		if std > 0 && !math.IsNaN(std) {
			s.Sharpe = mean / std * math.Sqrt(ppy)
			s.Volatility = std * math.Sqrt(ppy)
		}

		if years := float64(len(returns)) / ppy; years > 0 {
			switch {
			case final <= 0:
				s.CAGR = -1
			default:
				s.CAGR = math.Pow(final/nav[0].NAV, 1/years) - 1
			}
		}

		s.MaxDrawdown = maxDrawdown(nav)
	}

	s.Composite = compositeSharpe*s.Sharpe +
		compositeCAGR*s.CAGR +
		compositeWinRate*s.WinRate -
		compositeMaxDD*math.Abs(s.MaxDrawdown)
	return s
}

// maxDrawdown finds the largest peak-to-trough NAV decline as a
// positive fraction of the peak.
func maxDrawdown(nav []core.NavSnapshot) float64 {
	var maxDD float64
	var peak float64

	for _, snap := range nav {
		if snap.NAV > peak {
			peak = snap.NAV
		}
		if peak > 0 {
			dd := (peak - snap.NAV) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// periodsPerYear infers the annualization factor from the snapshot
// spacing: the median delta classifies the series as weekly, daily or
// intraday on a 252 trading-day calendar. Inference keeps the stats a
// function of the NAV series alone.
func periodsPerYear(nav []core.NavSnapshot) float64 {
	if len(nav) < 2 {
		return 252
	}

	deltas := make([]float64, 0, len(nav)-1)
	for i := 1; i < len(nav); i++ {
		deltas = append(deltas, nav[i].Time.Sub(nav[i-1].Time).Hours())
	}
	sort.Float64s(deltas)
	median := deltas[len(deltas)/2]

	switch {
	case median <= 0:
		return 252
	case median >= 6*24:
		return 52
	case median >= 18:
		return 252
	default:
		return 252 * math.Round(24/median)
	}
}
