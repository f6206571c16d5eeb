package optimize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

// BacktestEvaluator scores genomes by running one full backtest per
// candidate. Every call constructs a fresh strategy and executor, so
// concurrent evaluations share nothing but the read-only bar source.
type BacktestEvaluator struct {
	Factory        strategy.Factory
	Symbols        []string
	Base           map[string]any // fixed parameters the search does not touch
	Config         backtest.Config
	Source         timeline.BarSource
	Timeframe      core.Timeframe
	Start          time.Time
	End            time.Time
	SlowTimeframes []core.Timeframe

	// Objective converts run statistics into fitness. Nil means the
	// composite score.
	Objective func(backtest.Stats) float64

	// Logger is handed to the per-candidate executors. Nil keeps the
	// inner runs quiet, which is what a thousand-evaluation search
	// wants.
	Logger *zap.Logger
}

// Evaluate runs one backtest for the genome and scores it. A run that
// never trades counts as a failed candidate: doing nothing must not
// outrank strategies that traded and lost.
func (ev *BacktestEvaluator) Evaluate(ctx context.Context, genome ParameterSet) (float64, error) {
	params := make(map[string]any, len(ev.Base)+len(genome))
	for k, v := range ev.Base {
		params[k] = v
	}
	for k, v := range genome {
		params[k] = v
	}

	strat, err := ev.Factory(ev.Symbols, params)
	if err != nil {
		return 0, err
	}

	logger := ev.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exec, err := backtest.NewExecutor(ev.Config, ev.Source, logger)
	if err != nil {
		return 0, err
	}

	res, err := exec.Run(ctx, backtest.Request{
		Strategy:       strat,
		Params:         params,
		Timeframe:      ev.Timeframe,
		Start:          ev.Start,
		End:            ev.End,
		SlowTimeframes: ev.SlowTimeframes,
	})
	if err != nil {
		return 0, err
	}
	if len(res.Trades) == 0 {
		return 0, fmt.Errorf("no trades in [%s, %s)",
			ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
	}

	if ev.Objective != nil {
		return ev.Objective(res.Stats), nil
	}
	return res.Stats.Composite, nil
}
