// Package fixedweight implements a constant-allocation strategy.
package fixedweight

import (
	"fmt"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

// Strategy targets the same weights every step. With no drift-rebalance
// band configured on the executor this trades exactly once, at the first
// eligible step, which makes it the reference strategy for accounting
// checks.
type Strategy struct {
	symbols []string
	weights core.TargetWeights
}

// New creates a fixedweight strategy. The optional "weights" parameter
// maps symbols to fractions; without it every symbol receives 1/N.
func New(symbols []string, params map[string]any) (strategy.Strategy, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("fixedweight: empty universe")
	}

	weights := make(core.TargetWeights, len(symbols))
	if raw, ok := params["weights"].(map[string]any); ok {
		for _, sym := range symbols {
			weights[sym] = strategy.FloatParam(raw, sym, 0)
		}
	} else {
		each := 1.0 / float64(len(symbols))
		for _, sym := range symbols {
			weights[sym] = each
		}
	}

	return &Strategy{symbols: symbols, weights: weights}, nil
}

func (s *Strategy) Name() string { return "fixedweight" }

func (s *Strategy) Universe() []string { return s.symbols }

func (s *Strategy) RequiredLookback() int { return 1 }

func (s *Strategy) Tunables() []strategy.Param { return nil }

func (s *Strategy) Evaluate(ctx *timeline.Context) (core.TargetWeights, error) {
	return s.weights.Clone(), nil
}
