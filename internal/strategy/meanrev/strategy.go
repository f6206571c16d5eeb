// Package meanrev implements z-score mean reversion.
package meanrev

import (
	"fmt"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/indicator"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

const (
	defaultLookback = 20
	defaultEntryZ   = 1.5
	defaultExitZ    = 0.5
)

// Strategy buys symbols stretched below their trailing mean and exits
// once the stretch reverts. Long-only: positive z-scores are ignored.
//
// The held map is internal state derived entirely from contexts already
// seen; a fresh instance is built per run so concurrent simulations
// never share it.
type Strategy struct {
	symbols  []string
	lookback int
	entryZ   float64
	exitZ    float64

	held map[string]bool
}

// New creates a meanrev strategy. Parameters: lookback (int), entry_z
// (float), exit_z (float), with exit_z strictly below entry_z.
func New(symbols []string, params map[string]any) (strategy.Strategy, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("meanrev: empty universe")
	}

	s := &Strategy{
		symbols:  symbols,
		lookback: strategy.IntParam(params, "lookback", defaultLookback),
		entryZ:   strategy.FloatParam(params, "entry_z", defaultEntryZ),
		exitZ:    strategy.FloatParam(params, "exit_z", defaultExitZ),
		held:     make(map[string]bool, len(symbols)),
	}

	if s.lookback < 2 {
		return nil, fmt.Errorf("meanrev: lookback %d below 2", s.lookback)
	}
	if s.entryZ <= 0 {
		return nil, fmt.Errorf("meanrev: entry_z %f must be positive", s.entryZ)
	}
	if s.exitZ >= s.entryZ {
		return nil, fmt.Errorf("meanrev: exit_z %f not below entry_z %f", s.exitZ, s.entryZ)
	}

	return s, nil
}

func (s *Strategy) Name() string { return "meanrev" }

func (s *Strategy) Universe() []string { return s.symbols }

func (s *Strategy) RequiredLookback() int { return s.lookback }

func (s *Strategy) Tunables() []strategy.Param {
	return []strategy.Param{
		{Name: "lookback", Kind: strategy.KindInteger, Min: 10, Max: 60, Default: defaultLookback},
		{Name: "entry_z", Kind: strategy.KindContinuous, Min: 0.5, Max: 3.0, Default: defaultEntryZ},
		{Name: "exit_z", Kind: strategy.KindContinuous, Min: 0.0, Max: 0.45, Default: defaultExitZ},
	}
}

func (s *Strategy) Evaluate(ctx *timeline.Context) (core.TargetWeights, error) {
	for _, sym := range s.symbols {
		closes := ctx.Closes(sym)
		if len(closes) < s.lookback {
			continue
		}
		z := indicator.ZScore(closes, s.lookback)
		if !s.held[sym] && z <= -s.entryZ {
			s.held[sym] = true
		} else if s.held[sym] && z >= -s.exitZ {
			s.held[sym] = false
		}
	}

	weights := make(core.TargetWeights)
	each := 1.0 / float64(len(s.symbols))
	for sym, held := range s.held {
		if held {
			weights[sym] = each
		}
	}
	return weights, nil
}
