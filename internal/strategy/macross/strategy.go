// Package macross implements a dual moving-average trend filter.
package macross

import (
	"fmt"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/indicator"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

const (
	defaultFast = 20
	defaultSlow = 50
)

// Strategy holds symbols whose fast moving average sits above the slow
// one, splitting the budget equally across them. Symbols not trending
// stay in cash.
type Strategy struct {
	symbols []string
	fast    int
	slow    int
	maType  string // "sma" or "ema"
}

// New creates a macross strategy. Parameters: fast (int), slow (int),
// ma_type ("sma"/"ema"). fast must be below slow; the optimizer relies
// on construction failing for inverted pairs rather than silently
// swapping them.
func New(symbols []string, params map[string]any) (strategy.Strategy, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("macross: empty universe")
	}

	s := &Strategy{
		symbols: symbols,
		fast:    strategy.IntParam(params, "fast", defaultFast),
		slow:    strategy.IntParam(params, "slow", defaultSlow),
		maType:  strategy.StringParam(params, "ma_type", "sma"),
	}

	if s.fast < 2 {
		return nil, fmt.Errorf("macross: fast period %d below 2", s.fast)
	}
	if s.fast >= s.slow {
		return nil, fmt.Errorf("macross: fast %d not below slow %d", s.fast, s.slow)
	}
	if s.maType != "sma" && s.maType != "ema" {
		return nil, fmt.Errorf("macross: unknown ma_type %q", s.maType)
	}

	return s, nil
}

func (s *Strategy) Name() string { return "macross" }

func (s *Strategy) Universe() []string { return s.symbols }

func (s *Strategy) RequiredLookback() int { return s.slow + 1 }

func (s *Strategy) Tunables() []strategy.Param {
	return []strategy.Param{
		{Name: "fast", Kind: strategy.KindInteger, Min: 5, Max: 50, Default: defaultFast},
		{Name: "slow", Kind: strategy.KindInteger, Min: 20, Max: 200, Default: defaultSlow},
		{Name: "ma_type", Kind: strategy.KindCategorical, Choices: []string{"sma", "ema"}, Default: "sma"},
	}
}

func (s *Strategy) Evaluate(ctx *timeline.Context) (core.TargetWeights, error) {
	var trending []string
	for _, sym := range s.symbols {
		closes := ctx.Closes(sym)
		if len(closes) < s.slow {
			continue
		}
		fastMA := s.lastMA(closes, s.fast)
		slowMA := s.lastMA(closes, s.slow)
		if fastMA > slowMA {
			trending = append(trending, sym)
		}
	}

	weights := make(core.TargetWeights, len(trending))
	if len(trending) == 0 {
		return weights, nil
	}
	each := 1.0 / float64(len(trending))
	for _, sym := range trending {
		weights[sym] = each
	}
	return weights, nil
}

func (s *Strategy) lastMA(closes []float64, period int) float64 {
	var series []float64
	if s.maType == "ema" {
		series = indicator.EMA(closes, period)
	} else {
		series = indicator.SMA(closes, period)
	}
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
