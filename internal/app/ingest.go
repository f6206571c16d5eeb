package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/collector"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/dataset"
)

// Ingest fetches history for each symbol through the named collector
// and writes it into the data directory as parquet. It returns the
// total number of bars written. Symbols fetch sequentially; the first
// failure stops the ingest with earlier symbols already saved.
func (a *App) Ingest(ctx context.Context, source string, symbols []string, timeframe core.Timeframe, start, end time.Time) (int, error) {
	c, ok := a.collectors.Get(source)
	if !ok {
		return 0, core.WrapError(core.ErrCollectorFailed,
			fmt.Errorf("unknown collector %q, registered: %v", source, a.collectors.Names()))
	}
	if len(symbols) == 0 {
		return 0, core.WrapError(core.ErrConfigMissing, fmt.Errorf("at least one symbol is required"))
	}
	if !timeframe.IsValid() {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid timeframe %q", timeframe))
	}
	if !end.After(start) {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("start %s not before end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02")))
	}

	timeout := a.cfg.Data.Collectors[source].Timeout
	dir := dataset.NewDir(a.cfg.Data.Dir)

	total := 0
	for _, symbol := range symbols {
		bars, err := a.fetchHistory(ctx, c, symbol, start, end, timeframe, timeout)
		if err != nil {
			return total, err
		}
		if len(bars) == 0 {
			a.logger.Warn("no bars returned",
				zap.String("symbol", symbol),
				zap.String("source", source))
			continue
		}
		if err := dir.SaveBars(bars); err != nil {
			return total, err
		}
		total += len(bars)
		a.logger.Info("series ingested",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)),
			zap.Int("bars", len(bars)))
	}
	return total, nil
}

func (a *App) fetchHistory(ctx context.Context, c collector.Collector, symbol string, start, end time.Time, tf core.Timeframe, timeout time.Duration) ([]core.Bar, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.FetchHistory(ctx, symbol, start, end, tf)
}
