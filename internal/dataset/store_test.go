package dataset

import (
	"errors"
	"testing"
	"time"

	"github.com/openquant/crucible/internal/core"
)

func dayBar(symbol string, day int, close float64) core.Bar {
	return core.Bar{
		Symbol:    symbol,
		Timeframe: core.Timeframe1d,
		Time:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:      close,
		High:      close * 1.01,
		Low:       close * 0.99,
		Close:     close,
		Volume:    1000,
	}
}

func TestStore_AddBars(t *testing.T) {
	s := NewStore()

	bars := []core.Bar{dayBar("AAPL", 0, 100), dayBar("AAPL", 1, 101), dayBar("AAPL", 2, 102)}
	if err := s.AddBars(bars); err != nil {
		t.Fatalf("AddBars failed: %v", err)
	}

	if got := s.Len("AAPL", core.Timeframe1d); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}

func TestStore_AddBars_RejectsOutOfOrder(t *testing.T) {
	s := NewStore()
	if err := s.AddBars([]core.Bar{dayBar("AAPL", 5, 100)}); err != nil {
		t.Fatalf("AddBars failed: %v", err)
	}

	// Same timestamp
	if err := s.AddBars([]core.Bar{dayBar("AAPL", 5, 101)}); !errors.Is(err, core.ErrBadBar) {
		t.Errorf("expected ErrBadBar for duplicate timestamp, got %v", err)
	}
	// Earlier timestamp
	if err := s.AddBars([]core.Bar{dayBar("AAPL", 3, 101)}); !errors.Is(err, core.ErrBadBar) {
		t.Errorf("expected ErrBadBar for earlier timestamp, got %v", err)
	}
}

func TestStore_AddBars_RejectsInvalidOHLC(t *testing.T) {
	s := NewStore()
	bad := dayBar("AAPL", 0, 100)
	bad.High = 90 // below open and close

	err := s.AddBars([]core.Bar{bad})
	if !errors.Is(err, core.ErrBadBar) {
		t.Errorf("expected ErrBadBar, got %v", err)
	}
	if s.Len("AAPL", core.Timeframe1d) != 0 {
		t.Error("rejected batch must not be partially applied")
	}
}

func TestStore_AddBars_AfterFreeze(t *testing.T) {
	s := NewStore()
	s.Freeze()

	if err := s.AddBars([]core.Bar{dayBar("AAPL", 0, 100)}); err == nil {
		t.Error("expected error adding bars to frozen store")
	}
}

func TestStore_AsOf(t *testing.T) {
	s := NewStore()
	s.AddBars([]core.Bar{dayBar("AAPL", 0, 100), dayBar("AAPL", 2, 102), dayBar("AAPL", 4, 104)})
	s.Freeze()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		t         time.Time
		wantClose float64
		wantOK    bool
	}{
		{"exact match", base.AddDate(0, 0, 2), 102, true},
		{"between bars forward-fills", base.AddDate(0, 0, 3), 102, true},
		{"after last", base.AddDate(0, 0, 10), 104, true},
		{"before first", base.AddDate(0, 0, -1), 0, false},
	}

	for _, tt := range tests {
		bar, ok := s.AsOf("AAPL", core.Timeframe1d, tt.t)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && bar.Close != tt.wantClose {
			t.Errorf("%s: close = %f, want %f", tt.name, bar.Close, tt.wantClose)
		}
	}
}

func TestStore_WindowEnding(t *testing.T) {
	s := NewStore()
	var bars []core.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, dayBar("AAPL", i, 100+float64(i)))
	}
	s.AddBars(bars)
	s.Freeze()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 5)

	w := s.WindowEnding("AAPL", core.Timeframe1d, at, 3)
	if len(w) != 3 {
		t.Fatalf("window length = %d, want 3", len(w))
	}
	if w[len(w)-1].Close != 105 {
		t.Errorf("window end close = %f, want 105", w[len(w)-1].Close)
	}
	// Every bar in the window must be at or before the as-of time
	for _, b := range w {
		if b.Time.After(at) {
			t.Errorf("window contains future bar at %s", b.Time)
		}
	}

	// Requesting more bars than exist returns what is available
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	short := s.WindowEnding("AAPL", core.Timeframe1d, early, 5)
	if len(short) != 2 {
		t.Errorf("short window length = %d, want 2", len(short))
	}
}

func TestStore_Range(t *testing.T) {
	s := NewStore()
	var bars []core.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, dayBar("AAPL", i, 100+float64(i)))
	}
	s.AddBars(bars)
	s.Freeze()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Half-open: [day2, day5) → days 2, 3, 4
	got := s.Range("AAPL", core.Timeframe1d, base.AddDate(0, 0, 2), base.AddDate(0, 0, 5))
	if len(got) != 3 {
		t.Fatalf("range length = %d, want 3", len(got))
	}
	if got[0].Close != 102 || got[2].Close != 104 {
		t.Errorf("range bounds wrong: first %f last %f", got[0].Close, got[2].Close)
	}

	// Empty range
	if got := s.Range("AAPL", core.Timeframe1d, base.AddDate(0, 0, 20), base.AddDate(0, 0, 30)); got != nil {
		t.Errorf("expected nil for out-of-range query, got %d bars", len(got))
	}
}

func TestStore_Symbols(t *testing.T) {
	s := NewStore()
	s.AddBars([]core.Bar{dayBar("MSFT", 0, 100), dayBar("AAPL", 0, 100)})

	syms := s.Symbols()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT]", syms)
	}
}

func TestStore_Bars_Missing(t *testing.T) {
	s := NewStore()
	_, err := s.Bars("NOPE", core.Timeframe1d)
	if !errors.Is(err, core.ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestStore_MultiTimeframe(t *testing.T) {
	s := NewStore()
	hour := core.Bar{
		Symbol: "AAPL", Timeframe: core.Timeframe1h,
		Time: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Open: 99, High: 100, Low: 98, Close: 99.5, Volume: 10,
	}
	if err := s.AddBars([]core.Bar{dayBar("AAPL", 0, 100), hour}); err != nil {
		t.Fatalf("AddBars failed: %v", err)
	}

	tfs := s.Timeframes("AAPL")
	if len(tfs) != 2 {
		t.Fatalf("Timeframes = %v, want two entries", tfs)
	}
	// Sorted by duration: hourly before daily
	if tfs[0] != core.Timeframe1h || tfs[1] != core.Timeframe1d {
		t.Errorf("Timeframes order = %v, want [1h 1d]", tfs)
	}
}

func TestStore_Fingerprint(t *testing.T) {
	build := func(closes ...float64) *Store {
		s := NewStore()
		bars := make([]core.Bar, len(closes))
		for i, c := range closes {
			bars[i] = dayBar("AAPL", i, c)
		}
		if err := s.AddBars(bars); err != nil {
			t.Fatalf("AddBars failed: %v", err)
		}
		return s
	}

	a := build(100, 101, 102)
	b := build(100, 101, 102)
	c := build(100, 101, 103)

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical stores produced different fingerprints")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different closes produced the same fingerprint")
	}
	if got := a.Fingerprint(); len(got) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(got))
	}
}
