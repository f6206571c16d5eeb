package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/alert"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/dataset"
	"github.com/openquant/crucible/internal/notifier"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/report"
	"github.com/openquant/crucible/internal/storage/results"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/walkforward"
)

// RunSpec describes one requested run, shared by the CLI and the API.
// Seed nil means the configured evolution seed; plain backtests have no
// randomness and ignore it.
type RunSpec struct {
	Strategy  string         `json:"strategy"`
	Params    map[string]any `json:"params,omitempty"`
	Symbols   []string       `json:"symbols"`
	Timeframe core.Timeframe `json:"timeframe"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Seed      *int64         `json:"seed,omitempty"`
}

// SpecFromRun resolves the config file's run section into a RunSpec.
// Dates are 2006-01-02 days; callers overlay CLI flags on the result.
func SpecFromRun(rc config.RunConfig) (RunSpec, error) {
	spec := RunSpec{
		Strategy:  rc.Strategy,
		Params:    rc.Params,
		Symbols:   rc.Symbols,
		Timeframe: core.Timeframe(rc.Timeframe),
	}
	var err error
	if rc.Start != "" {
		if spec.Start, err = time.Parse("2006-01-02", rc.Start); err != nil {
			return RunSpec{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("run.start: %w", err))
		}
	}
	if rc.End != "" {
		if spec.End, err = time.Parse("2006-01-02", rc.End); err != nil {
			return RunSpec{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("run.end: %w", err))
		}
	}
	return spec, nil
}

// Validate rejects specs the engine cannot run. The API calls this
// before accepting a job so bad requests fail at submission, not in
// the background worker.
func (s RunSpec) Validate() error {
	if s.Strategy == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy is required"))
	}
	if len(s.Symbols) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("at least one symbol is required"))
	}
	if !s.Timeframe.IsValid() {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid timeframe %q", s.Timeframe))
	}
	if s.Start.IsZero() || s.End.IsZero() {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("start and end are required"))
	}
	if !s.End.After(s.Start) {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("start %s not before end %s",
			s.Start.Format("2006-01-02"), s.End.Format("2006-01-02")))
	}
	return nil
}

// loadData loads every requested series into a frozen store. The load
// is unbounded on the left so strategies have history to warm up on
// before the first simulated bar, and clipped at End so re-running a
// finished range keeps its fingerprint even after later ingests.
func (a *App) loadData(spec RunSpec) (*dataset.Store, error) {
	dir := dataset.NewDir(a.cfg.Data.Dir)
	return dir.LoadStore(spec.Symbols, []core.Timeframe{spec.Timeframe}, time.Time{}, spec.End)
}

// factoryFor binds a registry name into the factory shape the optimizer
// and walk-forward runner construct strategies through.
func (a *App) factoryFor(name string) strategy.Factory {
	return func(symbols []string, params map[string]any) (strategy.Strategy, error) {
		return a.strategies.New(name, symbols, params)
	}
}

// RunBacktest executes one deterministic backtest and persists the run:
// record and series in the results store, artifacts in the archive, an
// optional research note, and a completion event to every notifier.
// Failed runs are persisted too, with their partial series intact.
func (a *App) RunBacktest(ctx context.Context, spec RunSpec) (*backtest.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	data, err := a.loadData(spec)
	if err != nil {
		return nil, err
	}

	strat, err := a.strategies.New(spec.Strategy, spec.Symbols, spec.Params)
	if err != nil {
		return nil, err
	}
	exec, err := backtest.NewExecutor(a.cfg.Simulation, data, a.logger)
	if err != nil {
		return nil, err
	}

	res, runErr := exec.Run(ctx, backtest.Request{
		Strategy:  strat,
		Params:    spec.Params,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
	})
	a.metrics.RecordBacktest(string(res.State), res.FinishedAt.Sub(res.StartedAt).Seconds())

	rec, err := results.RecordFromResult(results.KindBacktest, res, 0, data.Fingerprint())
	if err != nil {
		return res, err
	}
	if err := a.saveSeries(ctx, rec, res.NAV, res.Trades); err != nil {
		return res, err
	}

	if runErr != nil {
		a.notify(ctx, runEvent(results.KindBacktest, rec, nil))
		return res, runErr
	}

	if err := a.reports.WriteBacktest(ctx, res); err != nil {
		return res, err
	}
	findings := a.review(rec.ID, statsMap(rec.Stats))
	a.annotate(ctx, res.RunID, report.BacktestSummary(res))
	a.notify(ctx, runEvent(results.KindBacktest, rec, findings))
	return res, nil
}

// RunWalkForward validates the strategy's parameter search out of
// sample and persists the outcome: the stitched out-of-sample series,
// per-window and per-generation rows, artifacts, note, and event.
func (a *App) RunWalkForward(ctx context.Context, spec RunSpec) (*walkforward.Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	data, err := a.loadData(spec)
	if err != nil {
		return nil, err
	}
	space, err := a.strategies.Tunables(spec.Strategy, spec.Symbols)
	if err != nil {
		return nil, err
	}

	eaCfg := a.cfg.Evolution
	if spec.Seed != nil {
		eaCfg.Seed = *spec.Seed
	}
	runner, err := walkforward.NewRunner(a.cfg.WalkForward, eaCfg, a.cfg.Simulation, data, a.logger)
	if err != nil {
		return nil, err
	}

	rep, err := runner.Run(ctx, walkforward.Request{
		Strategy:  spec.Strategy,
		Factory:   a.factoryFor(spec.Strategy),
		Symbols:   spec.Symbols,
		Base:      spec.Params,
		Space:     space,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
	})
	if err != nil {
		a.notify(ctx, failEvent(results.KindWalkForward, spec, err))
		return nil, err
	}
	a.metrics.RecordWindows(len(rep.Windows))

	rec, err := a.persistWalkForward(ctx, rep, eaCfg, data.Fingerprint())
	if err != nil {
		return rep, err
	}
	if err := a.reports.WriteWalkForward(ctx, rep); err != nil {
		return rep, err
	}

	stats := statsMap(rec.Stats)
	stats["degradation"] = rep.Aggregate.Degradation
	stats["mean_oos_cagr"] = rep.Aggregate.MeanOOSCAGR
	stats["std_oos_cagr"] = rep.Aggregate.StdOOSCAGR
	stats["negative_oos"] = float64(rep.Aggregate.NegativeOOS)
	findings := a.review(rec.ID, stats)

	a.annotate(ctx, rep.RunID, report.WalkForwardSummary(rep))
	a.notify(ctx, runEvent(results.KindWalkForward, rec, findings))
	return rep, nil
}

// RunEvolution searches the strategy's parameter space on the full
// range, replays the winner as a complete backtest, and persists the
// search alongside the winner's series.
func (a *App) RunEvolution(ctx context.Context, spec RunSpec) (*report.EvolutionReport, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	data, err := a.loadData(spec)
	if err != nil {
		return nil, err
	}
	space, err := a.strategies.Tunables(spec.Strategy, spec.Symbols)
	if err != nil {
		return nil, err
	}

	eaCfg := a.cfg.Evolution
	if spec.Seed != nil {
		eaCfg.Seed = *spec.Seed
	}
	eval := &optimize.BacktestEvaluator{
		Factory:   a.factoryFor(spec.Strategy),
		Symbols:   spec.Symbols,
		Base:      spec.Params,
		Config:    a.cfg.Simulation,
		Source:    data,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
	}
	opt, err := optimize.NewOptimizer(eaCfg, space, eval, a.logger)
	if err != nil {
		return nil, err
	}

	rep := &report.EvolutionReport{
		RunID:     uuid.NewString(),
		Strategy:  spec.Strategy,
		Symbols:   spec.Symbols,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
		StartedAt: time.Now(),
	}

	search, err := opt.Run(ctx)
	if err != nil {
		a.notify(ctx, failEvent(results.KindEvolution, spec, err))
		return nil, err
	}
	rep.Search = *search
	a.metrics.RecordEvolution(len(search.Generations), search.Evaluations)

	rep.Winner = a.replayWinner(ctx, spec, data, search.Best.Params)
	rep.FinishedAt = time.Now()

	rec, err := a.persistEvolution(ctx, rep, eaCfg, data.Fingerprint())
	if err != nil {
		return rep, err
	}
	if err := a.reports.WriteEvolution(ctx, rep); err != nil {
		return rep, err
	}
	var findings []alert.Finding
	if rep.Winner != nil {
		findings = a.review(rec.ID, statsMap(rec.Stats))
	}
	a.annotate(ctx, rep.RunID, report.EvolutionSummary(rep))
	a.notify(ctx, runEvent(results.KindEvolution, rec, findings))
	return rep, nil
}

// replayWinner reruns the best genome as a full backtest so the report
// carries a NAV series and trade log, not just a fitness number. A
// failed replay costs the report its winner, never the search result.
func (a *App) replayWinner(ctx context.Context, spec RunSpec, data *dataset.Store, best optimize.ParameterSet) *backtest.Result {
	params := make(map[string]any, len(spec.Params)+len(best))
	for k, v := range spec.Params {
		params[k] = v
	}
	for k, v := range best {
		params[k] = v
	}

	strat, err := a.strategies.New(spec.Strategy, spec.Symbols, params)
	if err != nil {
		a.logger.Warn("winner replay failed", zap.Error(err))
		return nil
	}
	exec, err := backtest.NewExecutor(a.cfg.Simulation, data, a.logger)
	if err != nil {
		a.logger.Warn("winner replay failed", zap.Error(err))
		return nil
	}
	res, err := exec.Run(ctx, backtest.Request{
		Strategy:  strat,
		Params:    params,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
	})
	if err != nil {
		a.logger.Warn("winner replay failed", zap.String("run_id", res.RunID), zap.Error(err))
		return nil
	}
	return res
}

func (a *App) saveSeries(ctx context.Context, rec results.RunRecord, nav []core.NavSnapshot, trades []core.Trade) error {
	if err := a.results.SaveRun(ctx, rec); err != nil {
		return err
	}
	if err := a.results.SaveNAV(ctx, rec.ID, nav); err != nil {
		return err
	}
	return a.results.SaveTrades(ctx, rec.ID, trades)
}

func (a *App) persistWalkForward(ctx context.Context, rep *walkforward.Report, eaCfg optimize.Config, fingerprint string) (results.RunRecord, error) {
	nav, trades := stitchOOS(rep)

	snap, err := json.Marshal(struct {
		Simulation  backtest.Config    `json:"simulation"`
		WalkForward walkforward.Config `json:"walkforward"`
		Evolution   optimize.Config    `json:"evolution"`
	}{a.cfg.Simulation, a.cfg.WalkForward, eaCfg})
	if err != nil {
		return results.RunRecord{}, core.WrapError(core.ErrStoreFailed, err)
	}

	rec := results.RunRecord{
		ID:          rep.RunID,
		Kind:        results.KindWalkForward,
		Strategy:    rep.Strategy,
		Symbols:     rep.Symbols,
		Timeframe:   rep.Timeframe,
		Start:       rep.Start,
		End:         rep.End,
		Seed:        rep.Seed,
		Config:      snap,
		Fingerprint: fingerprint,
		State:       backtest.StateCompleted,
		Stats:       backtest.CalculateStats(nav, trades),
		CreatedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
	}
	if err := a.saveSeries(ctx, rec, nav, trades); err != nil {
		return rec, err
	}
	if err := a.results.SaveWindows(ctx, rep.RunID, windowRows(rep)); err != nil {
		return rec, err
	}
	return rec, a.results.SaveGenerations(ctx, rep.RunID, generationRows(rep))
}

func (a *App) persistEvolution(ctx context.Context, rep *report.EvolutionReport, eaCfg optimize.Config, fingerprint string) (results.RunRecord, error) {
	snap, err := json.Marshal(struct {
		Simulation backtest.Config `json:"simulation"`
		Evolution  optimize.Config `json:"evolution"`
	}{a.cfg.Simulation, eaCfg})
	if err != nil {
		return results.RunRecord{}, core.WrapError(core.ErrStoreFailed, err)
	}

	rec := results.RunRecord{
		ID:          rep.RunID,
		Kind:        results.KindEvolution,
		Strategy:    rep.Strategy,
		Symbols:     rep.Symbols,
		Timeframe:   rep.Timeframe,
		Start:       rep.Start,
		End:         rep.End,
		Seed:        rep.Search.Seed,
		Config:      snap,
		Fingerprint: fingerprint,
		State:       backtest.StateCompleted,
		CreatedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
	}

	var nav []core.NavSnapshot
	var trades []core.Trade
	if rep.Winner != nil {
		rec.Stats = rep.Winner.Stats
		nav = rep.Winner.NAV
		trades = rep.Winner.Trades
	}
	if err := a.saveSeries(ctx, rec, nav, trades); err != nil {
		return rec, err
	}

	rows := make([]results.GenerationRow, 0, len(rep.Search.Generations))
	for _, g := range rep.Search.Generations {
		rows = append(rows, results.GenerationRow{
			Window:     -1,
			Generation: g.Index,
			Best:       g.Best,
			Mean:       g.Mean,
			Worst:      g.Worst,
			Failures:   g.Failures,
		})
	}
	return rec, a.results.SaveGenerations(ctx, rep.RunID, rows)
}

// stitchOOS joins the out-of-sample segments into one compounded
// series. Each window's test run restarts at the configured initial
// cash, so every segment is rescaled to continue where the previous one
// ended; the result is the equity curve of trading the whole validation
// end to end. Trade logs concatenate unchanged.
func stitchOOS(rep *walkforward.Report) ([]core.NavSnapshot, []core.Trade) {
	var nav []core.NavSnapshot
	var trades []core.Trade
	last := 0.0
	for _, w := range rep.Windows {
		if w.Test == nil || len(w.Test.NAV) == 0 {
			continue
		}
		scale := 1.0
		if first := w.Test.NAV[0].NAV; last > 0 && first > 0 {
			scale = last / first
		}
		for _, p := range w.Test.NAV {
			nav = append(nav, core.NavSnapshot{
				Time:           p.Time,
				Cash:           p.Cash * scale,
				PositionsValue: p.PositionsValue * scale,
				NAV:            p.NAV * scale,
			})
		}
		last = nav[len(nav)-1].NAV
		trades = append(trades, w.Test.Trades...)
	}
	return nav, trades
}

func windowRows(rep *walkforward.Report) []results.WindowRow {
	rows := make([]results.WindowRow, 0, len(rep.Windows))
	for _, w := range rep.Windows {
		params, err := json.Marshal(w.BestParams)
		if err != nil {
			params = nil
		}
		row := results.WindowRow{
			Window:     w.Window.Index,
			TrainStart: w.Window.TrainStart,
			TrainEnd:   w.Window.TrainEnd,
			TestStart:  w.Window.TestStart,
			TestEnd:    w.Window.TestEnd,
			Seed:       w.Seed,
			Params:     params,
			Fitness:    w.BestFitness,
			ISCAGR:     w.TrainStats.CAGR,
		}
		if w.Test != nil {
			row.OOSCAGR = w.Test.Stats.CAGR
			row.OOSReturn = w.Test.TotalReturn()
		}
		rows = append(rows, row)
	}
	return rows
}

func generationRows(rep *walkforward.Report) []results.GenerationRow {
	var rows []results.GenerationRow
	for _, w := range rep.Windows {
		for _, g := range w.Generations {
			rows = append(rows, results.GenerationRow{
				Window:     w.Window.Index,
				Generation: g.Index,
				Best:       g.Best,
				Mean:       g.Mean,
				Worst:      g.Worst,
				Failures:   g.Failures,
			})
		}
	}
	return rows
}

// annotate asks the analyst for a research note and attaches it to the
// run's artifacts. Notes are advisory: failures are logged and the run
// is unaffected.
func (a *App) annotate(ctx context.Context, runID, summary string) {
	if a.analyst == nil {
		return
	}
	note, err := a.analyst.Annotate(ctx, summary)
	if err != nil {
		a.logger.Warn("research note failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if err := a.reports.WriteNotes(ctx, runID, note); err != nil {
		a.logger.Warn("writing research note failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// review runs the configured alert rules over a finished run's stats.
// Findings are advisory: they are logged, attached to the completion
// event, and never change the run's outcome.
func (a *App) review(runID string, stats map[string]float64) []alert.Finding {
	findings := alert.Review(a.cfg.Alerts, stats)
	for _, f := range findings {
		a.logger.Warn("run review finding",
			zap.String("run_id", runID),
			zap.String("rule", f.Rule),
			zap.String("severity", string(f.Severity)),
			zap.Float64("value", f.Value),
			zap.String("message", f.Message))
	}
	return findings
}

// statsMap flattens run stats into the keys alert expressions name.
func statsMap(s backtest.Stats) map[string]float64 {
	return map[string]float64{
		"total_return": s.TotalReturn,
		"cagr":         s.CAGR,
		"sharpe":       s.Sharpe,
		"max_drawdown": s.MaxDrawdown,
		"win_rate":     s.WinRate,
		"composite":    s.Composite,
		"volatility":   s.Volatility,
		"total_trades": float64(s.TotalTrades),
	}
}

func (a *App) notify(ctx context.Context, ev notifier.Event) {
	for name, err := range a.notifiers.NotifyAll(ctx, ev) {
		a.logger.Warn("notifier failed",
			zap.String("notifier", name),
			zap.String("run_id", ev.RunID),
			zap.Error(err))
	}
}

func runEvent(kind results.Kind, rec results.RunRecord, findings []alert.Finding) notifier.Event {
	ev := notifier.Event{
		Kind:       string(kind),
		RunID:      rec.ID,
		Strategy:   rec.Strategy,
		Symbols:    rec.Symbols,
		State:      string(rec.State),
		Error:      rec.Error,
		FinishedAt: rec.FinishedAt,
	}
	if rec.State == backtest.StateCompleted {
		ev.TotalReturn = rec.Stats.TotalReturn
		ev.CAGR = rec.Stats.CAGR
		ev.Sharpe = rec.Stats.Sharpe
		ev.MaxDrawdown = rec.Stats.MaxDrawdown
	}
	for _, f := range findings {
		ev.Alerts = append(ev.Alerts, f.String())
	}
	return ev
}

func failEvent(kind results.Kind, spec RunSpec, err error) notifier.Event {
	return notifier.Event{
		Kind:       string(kind),
		Strategy:   spec.Strategy,
		Symbols:    spec.Symbols,
		State:      string(backtest.StateFailed),
		Error:      err.Error(),
		FinishedAt: time.Now(),
	}
}
