package walkforward

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

// Request describes one walk-forward validation: which strategy,
// searched over which tunables, on which data.
type Request struct {
	Strategy       string // registry name, recorded for reproducibility
	Factory        strategy.Factory
	Symbols        []string
	Base           map[string]any // fixed parameters the search does not touch
	Space          []strategy.Param
	Timeframe      core.Timeframe
	Start          time.Time
	End            time.Time
	SlowTimeframes []core.Timeframe
}

// WindowResult carries one window's winner and how it held up out of
// sample.
type WindowResult struct {
	Window      Window                `json:"window"`
	Seed        int64                 `json:"seed"`
	BestParams  optimize.ParameterSet `json:"best_params"`
	BestFitness float64               `json:"best_fitness"`
	TrainStats  backtest.Stats        `json:"train_stats"`
	Test        *backtest.Result      `json:"test"`
	Generations []optimize.Generation `json:"generations"`
}

// Report is the full validation outcome.
type Report struct {
	RunID      string         `json:"run_id"`
	Strategy   string         `json:"strategy"`
	Symbols    []string       `json:"symbols"`
	Timeframe  core.Timeframe `json:"timeframe"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Seed       int64          `json:"seed"`
	Windows    []WindowResult `json:"windows"`
	Aggregate  Aggregate      `json:"aggregate"`
	Flags      []Flag         `json:"flags"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Runner drives per-window searches and their out-of-sample runs.
type Runner struct {
	cfg    Config
	eaCfg  optimize.Config
	btCfg  backtest.Config
	source timeline.BarSource
	logger *zap.Logger
}

// NewRunner validates all three configs and creates a Runner.
func NewRunner(cfg Config, eaCfg optimize.Config, btCfg backtest.Config, source timeline.BarSource, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := eaCfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := btCfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if source == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil bar source"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, eaCfg: eaCfg, btCfg: btCfg, source: source, logger: logger}, nil
}

// Run generates the windows and drives each one: evolutionary search
// on the train range, then exactly one deterministic backtest of the
// winner on the unseen test range. Windows run concurrently; each
// derives its seed from the base seed plus its index, so the outcome
// never depends on scheduling. A window that cannot produce a winner
// fails the whole validation.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Factory == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil strategy factory"))
	}

	windows, err := GenerateWindows(req.Start, req.End, r.cfg.TrainSpan, r.cfg.TestSpan, r.cfg.Step, r.cfg.MaxWindows)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if len(windows) == 0 {
		return nil, core.WrapError(core.ErrNoData,
			fmt.Errorf("range %s to %s too short for train %v plus test %v",
				req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339),
				r.cfg.TrainSpan, r.cfg.TestSpan))
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Strategy:  req.Strategy,
		Symbols:   append([]string(nil), req.Symbols...),
		Timeframe: req.Timeframe,
		Start:     req.Start,
		End:       req.End,
		Seed:      r.eaCfg.Seed,
		StartedAt: time.Now(),
	}

	r.logger.Info("walk-forward started",
		zap.String("run_id", rep.RunID),
		zap.String("strategy", req.Strategy),
		zap.Int("windows", len(windows)),
		zap.Int64("seed", r.eaCfg.Seed))

	parallel := r.cfg.Parallel
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}

	results := make([]WindowResult, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, w := range windows {
		g.Go(func() error {
			res, err := r.runWindow(gctx, req, w)
			if err != nil {
				return fmt.Errorf("window %d: %w", w.Index, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep.Windows = results
	rep.Aggregate, rep.Flags = aggregateWindows(results, r.cfg.Thresholds)
	rep.FinishedAt = time.Now()

	r.logger.Info("walk-forward completed",
		zap.String("run_id", rep.RunID),
		zap.Int("windows", len(windows)),
		zap.Float64("mean_oos_cagr", rep.Aggregate.MeanOOSCAGR),
		zap.Float64("degradation", rep.Aggregate.Degradation),
		zap.Int("flags", len(rep.Flags)),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)))

	return rep, nil
}

// runWindow optimizes on the train range, then replays the winner on
// both ranges: the train replay recovers full in-sample statistics,
// the test run is the out-of-sample verdict.
func (r *Runner) runWindow(ctx context.Context, req Request, w Window) (*WindowResult, error) {
	logger := r.logger.With(zap.Int("window", w.Index))

	eaCfg := r.eaCfg
	eaCfg.Seed += int64(w.Index)

	eval := &optimize.BacktestEvaluator{
		Factory:        req.Factory,
		Symbols:        req.Symbols,
		Base:           req.Base,
		Config:         r.btCfg,
		Source:         r.source,
		Timeframe:      req.Timeframe,
		Start:          w.TrainStart,
		End:            w.TrainEnd,
		SlowTimeframes: req.SlowTimeframes,
	}

	opt, err := optimize.NewOptimizer(eaCfg, req.Space, eval, logger)
	if err != nil {
		return nil, err
	}
	search, err := opt.Run(ctx)
	if err != nil {
		return nil, err
	}

	params := mergeParams(req.Base, search.Best.Params)

	trainRes, err := r.runOnce(ctx, req, params, w.TrainStart, w.TrainEnd, zap.NewNop())
	if err != nil {
		return nil, err
	}
	testRes, err := r.runOnce(ctx, req, params, w.TestStart, w.TestEnd, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("window complete",
		zap.Float64("best_fitness", search.Best.Fitness),
		zap.Float64("train_cagr", trainRes.Stats.CAGR),
		zap.Float64("test_cagr", testRes.Stats.CAGR),
		zap.Float64("test_return", testRes.Stats.TotalReturn))

	return &WindowResult{
		Window:      w,
		Seed:        eaCfg.Seed,
		BestParams:  search.Best.Params,
		BestFitness: search.Best.Fitness,
		TrainStats:  trainRes.Stats,
		Test:        testRes,
		Generations: search.Generations,
	}, nil
}

// runOnce runs one deterministic backtest of params over [start, end).
func (r *Runner) runOnce(ctx context.Context, req Request, params map[string]any, start, end time.Time, logger *zap.Logger) (*backtest.Result, error) {
	strat, err := req.Factory(req.Symbols, params)
	if err != nil {
		return nil, core.WrapError(core.ErrStrategyFailed, err)
	}
	exec, err := backtest.NewExecutor(r.btCfg, r.source, logger)
	if err != nil {
		return nil, err
	}
	return exec.Run(ctx, backtest.Request{
		Strategy:       strat,
		Params:         params,
		Timeframe:      req.Timeframe,
		Start:          start,
		End:            end,
		SlowTimeframes: req.SlowTimeframes,
	})
}

// mergeParams overlays the winning genome on the fixed base params.
func mergeParams(base map[string]any, genome optimize.ParameterSet) map[string]any {
	merged := make(map[string]any, len(base)+len(genome))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range genome {
		merged[k] = v
	}
	return merged
}
