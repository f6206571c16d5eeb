package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/regime"
)

// BarSource is the read-only view of historical bars the builder aligns.
// *dataset.Store satisfies it; tests substitute hostile sources to probe
// the lookahead guard.
type BarSource interface {
	WindowEnding(symbol string, tf core.Timeframe, t time.Time, n int) []core.Bar
	AsOf(symbol string, tf core.Timeframe, t time.Time) (core.Bar, bool)
	Range(symbol string, tf core.Timeframe, start, end time.Time) []core.Bar
}

// Requirements declares what a strategy needs in each context.
type Requirements struct {
	Universe       []string
	Timeframe      core.Timeframe   // fast timeframe, drives the decision clock
	Lookback       int              // bars required per symbol, > 0
	SlowTimeframes []core.Timeframe // slower series forward-filled into the context
}

// Builder produces Contexts from a BarSource. It is a pure function of
// (source, t, requirements): it holds no mutable state and is safe for
// concurrent use once constructed.
type Builder struct {
	source BarSource
	req    Requirements
}

// NewBuilder validates the requirements and returns a Builder.
func NewBuilder(source BarSource, req Requirements) (*Builder, error) {
	if source == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil bar source"))
	}
	if len(req.Universe) == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("empty universe"))
	}
	if !req.Timeframe.IsValid() {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("invalid timeframe %q", req.Timeframe))
	}
	if req.Lookback < 1 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("lookback must be >= 1, got %d", req.Lookback))
	}
	for _, tf := range req.SlowTimeframes {
		if tf.Duration() <= req.Timeframe.Duration() {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("slow timeframe %s is not slower than %s", tf, req.Timeframe))
		}
	}
	// Copy the universe so later caller mutation cannot change the clock.
	uni := make([]string, len(req.Universe))
	copy(uni, req.Universe)
	req.Universe = uni
	return &Builder{source: source, req: req}, nil
}

// Requirements returns the builder's requirements.
func (b *Builder) Requirements() Requirements {
	return b.req
}

// Clock returns the ordered union of fast-timeframe timestamps across the
// universe within [start, end). Gaps are tolerated: a symbol missing a bar
// at some timestamp simply has a shorter window there.
func (b *Builder) Clock(start, end time.Time) []time.Time {
	seen := make(map[int64]time.Time)
	for _, sym := range b.req.Universe {
		for _, bar := range b.source.Range(sym, b.req.Timeframe, start, end) {
			seen[bar.Time.UnixNano()] = bar.Time
		}
	}
	clock := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		clock = append(clock, t)
	}
	sort.Slice(clock, func(i, j int) bool { return clock[i].Before(clock[j]) })
	return clock
}

// Build constructs the Context for decision time t. It returns
// core.ErrInsufficientData when any symbol lacks the required lookback
// (skip the step, not an abort) and core.ErrLookahead when the source
// hands back data from the future (fatal, the run can no longer be
// trusted).
func (b *Builder) Build(t time.Time, budget Budget) (*Context, error) {
	ctx := &Context{
		Time:    t,
		Windows: make(map[string][]core.Bar, len(b.req.Universe)),
		Budget:  budget,
	}

	for _, sym := range b.req.Universe {
		window := b.source.WindowEnding(sym, b.req.Timeframe, t, b.req.Lookback)
		if len(window) < b.req.Lookback {
			return nil, core.WrapError(core.ErrInsufficientData,
				fmt.Errorf("%s/%s has %d of %d bars at %s",
					sym, b.req.Timeframe, len(window), b.req.Lookback,
					t.Format(time.RFC3339)))
		}
		ctx.Windows[sym] = window
	}

	if len(b.req.SlowTimeframes) > 0 {
		ctx.Slow = make(map[string]map[core.Timeframe]core.Bar, len(b.req.Universe))
		for _, sym := range b.req.Universe {
			for _, tf := range b.req.SlowTimeframes {
				bar, ok := b.source.AsOf(sym, tf, t)
				if !ok {
					// Nothing known at or before t: forward-fill has no
					// value to carry, so the step is skipped.
					return nil, core.WrapError(core.ErrInsufficientData,
						fmt.Errorf("%s/%s has no bar at or before %s",
							sym, tf, t.Format(time.RFC3339)))
				}
				if ctx.Slow[sym] == nil {
					ctx.Slow[sym] = make(map[core.Timeframe]core.Bar, len(b.req.SlowTimeframes))
				}
				ctx.Slow[sym][tf] = bar
			}
		}
	}

	if err := ctx.validate(); err != nil {
		return nil, err
	}

	// Regime is derived from the first universe symbol's window, after
	// validation so it can never see a future bar either.
	ctx.Regime = regime.Detect(ctx.Windows[b.req.Universe[0]], b.req.Timeframe.PeriodsPerYear())

	return ctx, nil
}
