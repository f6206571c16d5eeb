package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openquant/crucible/internal/core"
)

// Dir reads and writes bar files under a data directory laid out as
//
//	<root>/<SYMBOL>/<timeframe>.parquet
//
// with a CSV fallback (<timeframe>.csv) for hand-maintained series.
// Parquet is the ingest output format and preferred for large sets.
type Dir struct {
	Root string
}

// NewDir creates a Dir rooted at the given data directory.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) parquetPath(symbol string, tf core.Timeframe) string {
	return filepath.Join(d.Root, strings.ToUpper(symbol), string(tf)+".parquet")
}

func (d *Dir) csvPath(symbol string, tf core.Timeframe) string {
	return filepath.Join(d.Root, strings.ToUpper(symbol), string(tf)+".csv")
}

// SaveBars writes bars grouped by (symbol, timeframe) into Parquet files.
func (d *Dir) SaveBars(bars []core.Bar) error {
	type key struct {
		symbol string
		tf     core.Timeframe
	}
	groups := make(map[key][]core.Bar)
	for _, b := range bars {
		k := key{b.Symbol, b.Timeframe}
		groups[k] = append(groups[k], b)
	}

	for k, group := range groups {
		path := d.parquetPath(k.symbol, k.tf)
		if err := WriteParquet(path, group); err != nil {
			return fmt.Errorf("saving %s/%s: %w", k.symbol, k.tf, err)
		}
	}
	return nil
}

// LoadSeries reads one (symbol, timeframe) series, preferring Parquet and
// falling back to CSV.
func (d *Dir) LoadSeries(symbol string, tf core.Timeframe) ([]core.Bar, error) {
	pq := d.parquetPath(symbol, tf)
	if _, err := os.Stat(pq); err == nil {
		return ReadParquet(pq)
	}

	csv := d.csvPath(symbol, tf)
	if _, err := os.Stat(csv); err == nil {
		return ReadCSV(csv, strings.ToUpper(symbol), tf)
	}

	return nil, core.WrapError(core.ErrNoData,
		fmt.Errorf("no bar file for %s/%s under %s", symbol, tf, d.Root))
}

// ListSymbols lists all symbols with a data subdirectory, sorted.
func (d *Dir) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LoadStore loads the requested series restricted to [start, end) into a
// frozen Store ready for simulation. Every symbol must have data for every
// requested timeframe; a missing series is an error, not a silent skip.
func (d *Dir) LoadStore(symbols []string, tfs []core.Timeframe, start, end time.Time) (*Store, error) {
	store := NewStore()
	for _, sym := range symbols {
		for _, tf := range tfs {
			bars, err := d.LoadSeries(sym, tf)
			if err != nil {
				return nil, err
			}
			bars = clipBars(bars, start, end)
			if len(bars) == 0 {
				return nil, core.WrapError(core.ErrNoData,
					fmt.Errorf("%s/%s has no bars in [%s, %s)", sym, tf,
						start.Format(time.RFC3339), end.Format(time.RFC3339)))
			}
			if err := store.AddBars(bars); err != nil {
				return nil, err
			}
		}
	}
	store.Freeze()
	return store, nil
}

// clipBars returns bars with start <= Time < end. A zero start or end
// leaves that side unbounded.
func clipBars(bars []core.Bar, start, end time.Time) []core.Bar {
	var out []core.Bar
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !b.Time.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
