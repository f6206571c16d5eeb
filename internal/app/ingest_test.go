package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/dataset"
)

// stubCollector returns a fixed daily series for every requested
// symbol, or a canned error.
type stubCollector struct {
	days int
	err  error
}

func (s *stubCollector) Name() string { return "stub" }

func (s *stubCollector) FetchHistory(ctx context.Context, symbol string, start, end time.Time, tf core.Timeframe) ([]core.Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	bars := make([]core.Bar, 0, s.days)
	for i := 0; i < s.days; i++ {
		price := 100 + float64(i)
		bars = append(bars, core.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Time:      start.AddDate(0, 0, i),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    1000,
		})
	}
	return bars, nil
}

func TestIngest(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	a.Collectors().Register(&stubCollector{days: 30})

	n, err := a.Ingest(context.Background(), "stub",
		[]string{"AAA", "BBB"}, core.Timeframe1d, date(2024, 1, 1), date(2024, 2, 1))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if n != 60 {
		t.Errorf("expected 60 bars written, got %d", n)
	}

	// The written files must round-trip through the dataset layer.
	bars, err := dataset.NewDir(cfg.Data.Dir).LoadSeries("AAA", core.Timeframe1d)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	if len(bars) != 30 {
		t.Errorf("expected 30 bars on disk, got %d", len(bars))
	}
	if bars[0].Symbol != "AAA" || bars[0].Close != 100.5 {
		t.Errorf("unexpected first bar: %+v", bars[0])
	}
}

func TestIngest_UnknownCollector(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	_, err := a.Ingest(context.Background(), "nope",
		[]string{"AAA"}, core.Timeframe1d, date(2024, 1, 1), date(2024, 2, 1))
	if !errors.Is(err, core.ErrCollectorFailed) {
		t.Fatalf("expected ErrCollectorFailed, got %v", err)
	}
}

func TestIngest_CollectorError(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	a.Collectors().Register(&stubCollector{err: errors.New("rate limited")})

	_, err := a.Ingest(context.Background(), "stub",
		[]string{"AAA"}, core.Timeframe1d, date(2024, 1, 1), date(2024, 2, 1))
	if err == nil {
		t.Fatal("expected the collector error to surface")
	}
}

func TestIngest_Validation(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	a.Collectors().Register(&stubCollector{days: 5})

	if _, err := a.Ingest(context.Background(), "stub", nil,
		core.Timeframe1d, date(2024, 1, 1), date(2024, 2, 1)); err == nil {
		t.Error("expected error for empty symbol list")
	}
	if _, err := a.Ingest(context.Background(), "stub", []string{"AAA"},
		"3d", date(2024, 1, 1), date(2024, 2, 1)); err == nil {
		t.Error("expected error for invalid timeframe")
	}
	if _, err := a.Ingest(context.Background(), "stub", []string{"AAA"},
		core.Timeframe1d, date(2024, 2, 1), date(2024, 1, 1)); err == nil {
		t.Error("expected error for inverted range")
	}
}
