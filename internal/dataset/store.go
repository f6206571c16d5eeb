// Package dataset holds immutable historical bar series and their loaders.
package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openquant/crucible/internal/core"
)

type seriesKey struct {
	symbol    string
	timeframe core.Timeframe
}

// Store holds columnar bar series keyed by (symbol, timeframe).
// It is writable until Freeze is called and strictly read-only afterwards,
// at which point it is safe for concurrent readers. The simulation engine
// only ever sees a frozen store.
type Store struct {
	mu     sync.RWMutex
	series map[seriesKey][]core.Bar
	frozen bool
}

// NewStore creates an empty bar store.
func NewStore() *Store {
	return &Store{
		series: make(map[seriesKey][]core.Bar),
	}
}

// AddBars appends bars to their (symbol, timeframe) series. Bars must be
// valid and arrive in strictly increasing timestamp order per series;
// violations reject the whole batch so a run never starts on corrupt data.
func (s *Store) AddBars(bars []core.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("store is frozen"))
	}

	// Validate the batch before touching the series
	last := make(map[seriesKey]time.Time)
	for k, series := range s.series {
		if len(series) > 0 {
			last[k] = series[len(series)-1].Time
		}
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return core.WrapError(core.ErrBadBar, err)
		}
		k := seriesKey{b.Symbol, b.Timeframe}
		if prev, ok := last[k]; ok && !b.Time.After(prev) {
			return core.WrapError(core.ErrBadBar,
				fmt.Errorf("%s/%s timestamp %s not after %s", b.Symbol, b.Timeframe,
					b.Time.Format(time.RFC3339), prev.Format(time.RFC3339)))
		}
		last[k] = b.Time
	}

	for _, b := range bars {
		k := seriesKey{b.Symbol, b.Timeframe}
		s.series[k] = append(s.series[k], b)
	}
	return nil
}

// Freeze makes the store immutable. Idempotent.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether the store has been frozen.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Fingerprint returns a hex digest of the store's exact contents. Two
// stores holding byte-identical series always produce the same digest,
// so a persisted run can record which data it was computed from.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]seriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].timeframe < keys[j].timeframe
	})

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s/%s/%d\n", k.symbol, k.timeframe, len(s.series[k]))
		for _, b := range s.series[k] {
			_ = binary.Write(h, binary.BigEndian, b.Time.UnixNano())
			_ = binary.Write(h, binary.BigEndian, [5]float64{b.Open, b.High, b.Low, b.Close, b.Volume})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Symbols returns all symbols present in the store, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range s.series {
		seen[k.symbol] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for sym := range seen {
		result = append(result, sym)
	}
	sort.Strings(result)
	return result
}

// Timeframes returns the timeframes stored for a symbol, sorted by duration.
func (s *Store) Timeframes(symbol string) []core.Timeframe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []core.Timeframe
	for k := range s.series {
		if k.symbol == symbol {
			result = append(result, k.timeframe)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Duration() < result[j].Duration()
	})
	return result
}

// Len returns the number of bars stored for (symbol, timeframe).
func (s *Store) Len(symbol string, tf core.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[seriesKey{symbol, tf}])
}

// Bars returns the full series for (symbol, timeframe). The returned slice
// is the store's backing array: callers must treat it as read-only.
func (s *Store) Bars(symbol string, tf core.Timeframe) ([]core.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[seriesKey{symbol, tf}]
	if !ok || len(series) == 0 {
		return nil, core.WrapError(core.ErrSymbolNotFound,
			fmt.Errorf("no bars for %s/%s", symbol, tf))
	}
	return series, nil
}

// Range returns bars with start <= Time < end (half-open interval).
// The returned slice shares the store's backing array.
func (s *Store) Range(symbol string, tf core.Timeframe, start, end time.Time) []core.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol, tf}]
	if len(series) == 0 {
		return nil
	}

	lo := sort.Search(len(series), func(i int) bool {
		return !series[i].Time.Before(start)
	})
	hi := sort.Search(len(series), func(i int) bool {
		return !series[i].Time.Before(end)
	})
	if lo >= hi {
		return nil
	}
	return series[lo:hi]
}

// AsOf returns the most recent bar with Time <= t, the forward-fill lookup
// used to align slower timeframes. The boolean is false when no bar exists
// at or before t.
func (s *Store) AsOf(symbol string, tf core.Timeframe, t time.Time) (core.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol, tf}]
	idx := asOfIndex(series, t)
	if idx < 0 {
		return core.Bar{}, false
	}
	return series[idx], true
}

// WindowEnding returns up to n bars ending at the most recent bar with
// Time <= t. Callers requiring a full lookback must check the length.
// The returned slice shares the store's backing array.
func (s *Store) WindowEnding(symbol string, tf core.Timeframe, t time.Time, n int) []core.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol, tf}]
	idx := asOfIndex(series, t)
	if idx < 0 || n <= 0 {
		return nil
	}
	lo := idx - n + 1
	if lo < 0 {
		lo = 0
	}
	return series[lo : idx+1]
}

// FirstTime returns the earliest timestamp for (symbol, timeframe).
func (s *Store) FirstTime(symbol string, tf core.Timeframe) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol, tf}]
	if len(series) == 0 {
		return time.Time{}, false
	}
	return series[0].Time, true
}

// LastTime returns the latest timestamp for (symbol, timeframe).
func (s *Store) LastTime(symbol string, tf core.Timeframe) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol, tf}]
	if len(series) == 0 {
		return time.Time{}, false
	}
	return series[len(series)-1].Time, true
}

// asOfIndex returns the index of the last bar with Time <= t, or -1.
// Binary search; series timestamps are strictly increasing.
func asOfIndex(series []core.Bar, t time.Time) int {
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Time.After(t)
	})
	return idx - 1
}
