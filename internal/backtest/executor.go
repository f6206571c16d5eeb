// Package backtest runs deterministic portfolio simulations over
// historical bars. One Executor serves one run at a time; parallel
// searches construct one per worker so no run ever shares state.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/portfolio"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/timeline"
)

// weight differences below this are treated as unchanged targets
const weightEpsilon = 1e-9

// notional below this is float dust, not an order
const minOrderNotional = 1e-6

// Request describes one run: which strategy over which data range.
// Params are the values the strategy was constructed with; the
// executor records them in the Result so the run can be reproduced.
type Request struct {
	Strategy       strategy.Strategy
	Params         map[string]any
	Timeframe      core.Timeframe
	Start          time.Time
	End            time.Time
	SlowTimeframes []core.Timeframe
}

// Executor turns Requests into Results. It holds only immutable
// collaborators, so a single Executor may serve sequential runs; the
// mutable per-run state lives on the stack of Run.
type Executor struct {
	cfg    Config
	source timeline.BarSource
	logger *zap.Logger
}

// NewExecutor validates the config and creates an Executor.
func NewExecutor(cfg Config, source timeline.BarSource, logger *zap.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if source == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil bar source"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, source: source, logger: logger}, nil
}

// order is one queued instruction to trade a fixed share quantity.
// Quantity is set at decision time; the fill price is not known until
// the order executes.
type order struct {
	symbol   string
	side     core.Side
	quantity float64
	decided  time.Time
}

// runState is the mutable state of one run in flight.
type runState struct {
	req        Request
	builder    *timeline.Builder
	ledger     *portfolio.Ledger
	pending    []order
	lastTarget core.TargetWeights
	result     *Result
}

// Run executes the simulation and returns its Result. On fatal errors
// the Result carries state FAILED with the partial NAV series and
// trade log intact for debugging, and the error is also returned.
// Cancellation is honored between bars, never inside one.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Timeframe: req.Timeframe,
		Start:     req.Start,
		End:       req.End,
		Params:    req.Params,
		Config:    e.cfg,
		State:     StateInitialized,
		StartedAt: time.Now(),
	}

	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		res.Error = err.Error()
		res.FinishedAt = time.Now()
		e.logger.Error("backtest failed",
			zap.String("run_id", res.RunID),
			zap.String("strategy", res.Strategy),
			zap.Error(err))
		return res, err
	}

	if req.Strategy == nil {
		return fail(core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil strategy")))
	}
	res.Strategy = req.Strategy.Name()
	res.Universe = append([]string(nil), req.Strategy.Universe()...)

	if !req.End.After(req.Start) {
		return fail(core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("start %s not before end %s", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))))
	}

	builder, err := timeline.NewBuilder(e.source, timeline.Requirements{
		Universe:       req.Strategy.Universe(),
		Timeframe:      req.Timeframe,
		Lookback:       req.Strategy.RequiredLookback(),
		SlowTimeframes: req.SlowTimeframes,
	})
	if err != nil {
		return fail(err)
	}

	clock := builder.Clock(req.Start, req.End)
	if len(clock) == 0 {
		return fail(core.WrapError(core.ErrNoData,
			fmt.Errorf("no bars for universe %v in [%s, %s)",
				res.Universe, req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))))
	}

	res.State = StateRunning
	e.logger.Info("backtest started",
		zap.String("run_id", res.RunID),
		zap.String("strategy", res.Strategy),
		zap.Strings("universe", res.Universe),
		zap.Int("bars", len(clock)))

	st := &runState{
		req:     req,
		builder: builder,
		ledger:  portfolio.NewLedger(e.cfg.InitialCash),
		result:  res,
	}

	for _, t := range clock {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}
		if err := e.step(st, t); err != nil {
			return fail(err)
		}
	}

	for _, o := range st.pending {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Time:   req.End,
			Symbol: o.symbol,
			Reason: fmt.Sprintf("run ended before fill: %s %.4f %s", o.side, o.quantity, o.symbol),
		})
	}

	res.Positions = st.ledger.Positions()
	res.Trades = st.ledger.Trades()
	res.Stats = CalculateStats(res.NAV, res.Trades)
	res.State = StateCompleted
	res.FinishedAt = time.Now()

	e.logger.Info("backtest completed",
		zap.String("run_id", res.RunID),
		zap.String("strategy", res.Strategy),
		zap.Float64("final_nav", res.FinalNAV()),
		zap.Int("trades", len(res.Trades)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	return res, nil
}

// step advances the simulation by one clock tick: fill what the last
// decision queued, mark the book, make this bar's decision, and close
// with the bar's NavSnapshot and conservation check.
func (e *Executor) step(st *runState, t time.Time) error {
	if err := e.fillPending(st, t); err != nil {
		return err
	}

	prices := e.markPrices(st, t)
	preNav, err := st.ledger.MarkToMarket(t, prices)
	if err != nil {
		return err
	}

	tctx, err := st.builder.Build(t, timeline.Budget{Fraction: 1, Dollars: preNav.NAV})
	switch {
	case errors.Is(err, core.ErrInsufficientData):
		st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
			Time:   t,
			Reason: fmt.Sprintf("step skipped: %v", err),
		})
	case err != nil:
		return err
	default:
		if err := e.decide(st, tctx, prices, preNav.NAV, t); err != nil {
			return err
		}
	}

	snap, err := st.ledger.MarkToMarket(t, prices)
	if err != nil {
		return err
	}
	if err := st.ledger.Reconcile(); err != nil {
		return err
	}
	st.result.NAV = append(st.result.NAV, snap)
	return nil
}

// decide evaluates the strategy, clamps the targets and issues orders
// when the targets changed (or drifted past the rebalance band).
func (e *Executor) decide(st *runState, tctx *timeline.Context, prices map[string]float64, nav float64, t time.Time) error {
	weights, err := st.req.Strategy.Evaluate(tctx)
	if err != nil {
		return core.WrapError(core.ErrStrategyFailed, err)
	}

	target, violations := e.cfg.Constraints.Apply(weights)
	for _, v := range violations {
		st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
			Time: t, Symbol: v.Symbol, Reason: v.Reason,
		})
	}

	if !e.shouldRebalance(st, target, prices, nav) {
		return nil
	}

	orders := e.buildOrders(st, target, prices, nav, t)
	st.lastTarget = target
	if len(orders) == 0 {
		return nil
	}

	if e.cfg.FillPolicy == FillSameClose {
		return e.executeBatch(st, orders, func(sym string) (float64, bool) {
			px, ok := prices[sym]
			return px, ok
		}, t)
	}

	// next_open: new targets supersede anything still queued
	for _, o := range st.pending {
		st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
			Time:   t,
			Symbol: o.symbol,
			Reason: fmt.Sprintf("superseded by new targets: %s %.4f %s cancelled", o.side, o.quantity, o.symbol),
		})
	}
	st.pending = orders
	return nil
}

// shouldRebalance reports whether this decision needs orders: the
// targets moved, or an actual weight drifted past the band.
func (e *Executor) shouldRebalance(st *runState, target core.TargetWeights, prices map[string]float64, nav float64) bool {
	if weightsDiffer(target, st.lastTarget) {
		return true
	}
	if e.cfg.RebalanceBand <= 0 || nav <= 0 {
		return false
	}
	for _, pos := range st.ledger.Positions() {
		px, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		actual := pos.Quantity * px / nav
		if math.Abs(actual-target[pos.Symbol]) > e.cfg.RebalanceBand {
			return true
		}
	}
	return false
}

// buildOrders converts target weights into share deltas against the
// current book. Symbols are visited alphabetically so the order list,
// and therefore the whole fill sequence, is deterministic.
func (e *Executor) buildOrders(st *runState, target core.TargetWeights, prices map[string]float64, nav float64, t time.Time) []order {
	universe := make(map[string]struct{}, len(target))
	for sym := range target {
		universe[sym] = struct{}{}
	}
	for _, pos := range st.ledger.Positions() {
		universe[pos.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var orders []order
	for _, sym := range symbols {
		px, ok := prices[sym]
		if !ok || px <= 0 {
			if math.Abs(target[sym]) > weightEpsilon {
				st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
					Time:   t,
					Symbol: sym,
					Reason: fmt.Sprintf("no price for %s, target weight %.4f skipped", sym, target[sym]),
				})
			}
			continue
		}

		var current float64
		if pos, held := st.ledger.Position(sym); held {
			current = pos.Quantity
		}
		delta := target[sym]*nav/px - current
		if math.Abs(delta)*px < minOrderNotional {
			continue
		}

		side := core.SideBuy
		if delta < 0 {
			side = core.SideSell
		}
		orders = append(orders, order{
			symbol:   sym,
			side:     side,
			quantity: math.Abs(delta),
			decided:  t,
		})
	}
	return orders
}

// fillPending executes queued orders for symbols that printed a fresh
// bar at t, at that bar's open. Orders whose symbol has no bar at t
// stay queued for its next one.
func (e *Executor) fillPending(st *runState, t time.Time) error {
	if len(st.pending) == 0 {
		return nil
	}

	var executable []order
	var remaining []order
	for _, o := range st.pending {
		bar, ok := e.source.AsOf(o.symbol, st.req.Timeframe, t)
		if ok && bar.Time.Equal(t) && t.After(o.decided) {
			executable = append(executable, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	st.pending = remaining
	if len(executable) == 0 {
		return nil
	}

	return e.executeBatch(st, executable, func(sym string) (float64, bool) {
		bar, ok := e.source.AsOf(sym, st.req.Timeframe, t)
		if !ok || !bar.Time.Equal(t) {
			return 0, false
		}
		return bar.Open, true
	}, t)
}

// executeBatch fills a batch atomically: sells first to free cash,
// then buys, scaled down as one block if the freed cash cannot cover
// them. Either every fill applies or the run aborts.
func (e *Executor) executeBatch(st *runState, orders []order, priceOf func(string) (float64, bool), t time.Time) error {
	var sells, buys []order
	for _, o := range orders {
		if o.side == core.SideSell {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}

	for _, o := range sells {
		ref, ok := priceOf(o.symbol)
		if !ok {
			return core.WrapError(core.ErrMissingPrice,
				fmt.Errorf("no execution price for %s at %s", o.symbol, t.Format(time.RFC3339)))
		}
		if err := e.applyOrder(st, o, ref, 1.0, t); err != nil {
			return err
		}
	}

	if len(buys) == 0 {
		return nil
	}

	// Size the whole buy block against available cash. Commissions are
	// bounded by bps-of-notional plus the fixed minimum, so solving the
	// linear part against cash net of the minimums can never overdraw.
	var buyCost float64
	refPrices := make(map[string]float64, len(buys))
	for _, o := range buys {
		ref, ok := priceOf(o.symbol)
		if !ok {
			return core.WrapError(core.ErrMissingPrice,
				fmt.Errorf("no execution price for %s at %s", o.symbol, t.Format(time.RFC3339)))
		}
		refPrices[o.symbol] = ref
		exec := ref * (1 + e.cfg.SlippageBps/10_000)
		buyCost += o.quantity * exec * (1 + e.cfg.CommissionBps/10_000)
	}

	scale := 1.0
	available := st.ledger.Cash() - float64(len(buys))*e.cfg.CommissionMin
	if buyCost > available {
		if available <= 0 {
			for _, o := range buys {
				st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
					Time:   t,
					Symbol: o.symbol,
					Reason: fmt.Sprintf("no cash for %s %.4f %s, order dropped", o.side, o.quantity, o.symbol),
				})
			}
			return nil
		}
		scale = available / buyCost
		st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
			Time:   t,
			Reason: fmt.Sprintf("buy orders scaled by %.6f to stay within cash", scale),
		})
	}

	for _, o := range buys {
		if err := e.applyOrder(st, o, refPrices[o.symbol], scale, t); err != nil {
			return err
		}
	}
	return nil
}

// applyOrder executes one order at the reference price with slippage
// against the direction and commission on the executed notional.
func (e *Executor) applyOrder(st *runState, o order, refPrice, scale float64, t time.Time) error {
	qty := o.quantity * scale
	if qty*refPrice < minOrderNotional {
		return nil
	}

	slip := refPrice * e.cfg.SlippageBps / 10_000
	exec := refPrice + slip
	if o.side == core.SideSell {
		exec = refPrice - slip
	}
	if exec <= 0 {
		return core.WrapError(core.ErrMissingPrice,
			fmt.Errorf("slippage drove %s price %.6f non-positive at %s", o.symbol, exec, t.Format(time.RFC3339)))
	}

	commission := qty * exec * e.cfg.CommissionBps / 10_000
	if commission < e.cfg.CommissionMin {
		commission = e.cfg.CommissionMin
	}

	_, err := st.ledger.ApplyFill(portfolio.Fill{
		Symbol:     o.symbol,
		Time:       t,
		Side:       o.side,
		Quantity:   qty,
		Price:      exec,
		Commission: commission,
		Slippage:   slip * qty,
	})
	return err
}

// markPrices collects the close known as of t for every symbol the run
// touches: the strategy universe plus anything currently held. A held
// position whose latest bar predates t is marked at that stale close and
// the substitution is recorded as a diagnostic.
func (e *Executor) markPrices(st *runState, t time.Time) map[string]float64 {
	prices := make(map[string]float64)
	marked := make(map[string]time.Time)
	for _, sym := range st.req.Strategy.Universe() {
		if bar, ok := e.source.AsOf(sym, st.req.Timeframe, t); ok {
			prices[sym] = bar.Close
			marked[sym] = bar.Time
		}
	}
	for _, pos := range st.ledger.Positions() {
		if _, seen := prices[pos.Symbol]; !seen {
			if bar, ok := e.source.AsOf(pos.Symbol, st.req.Timeframe, t); ok {
				prices[pos.Symbol] = bar.Close
				marked[pos.Symbol] = bar.Time
			}
		}
		if at, ok := marked[pos.Symbol]; ok && at.Before(t) {
			st.result.Diagnostics = append(st.result.Diagnostics, Diagnostic{
				Time:   t,
				Symbol: pos.Symbol,
				Reason: fmt.Sprintf("position marked at stale close from %s", at.Format(time.RFC3339)),
			})
		}
	}
	return prices
}

// weightsDiffer reports whether two target maps disagree beyond the
// epsilon, treating absent symbols as zero.
func weightsDiffer(a, b core.TargetWeights) bool {
	for sym, w := range a {
		if math.Abs(w-b[sym]) > weightEpsilon {
			return true
		}
	}
	for sym, w := range b {
		if _, ok := a[sym]; !ok && math.Abs(w) > weightEpsilon {
			return true
		}
	}
	return false
}
