package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/openquant/crucible/internal/core"
)

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timeframe string  `parquet:"timeframe"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func toRecord(b core.Bar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol,
		Timeframe: string(b.Timeframe),
		Timestamp: b.Time.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func fromRecord(r BarRecord) core.Bar {
	return core.Bar{
		Symbol:    r.Symbol,
		Timeframe: core.Timeframe(r.Timeframe),
		Time:      time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// ReadParquet loads all bars from a Parquet file.
func ReadParquet(path string) ([]core.Bar, error) {
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	bars := make([]core.Bar, len(records))
	for i, r := range records {
		bars[i] = fromRecord(r)
	}
	return bars, nil
}

// WriteParquet writes bars to a Parquet file, merging with any existing
// records. Duplicate (symbol, timestamp) pairs prefer the incoming bar.
// Records are stored sorted by timestamp.
func WriteParquet(path string, bars []core.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	incoming := make([]BarRecord, len(bars))
	for i, b := range bars {
		incoming[i] = toRecord(b)
	}

	existing, _ := parquet.ReadFile[BarRecord](path)
	merged := mergeBarRecords(existing, incoming)

	return parquet.WriteFile(path, merged)
}

// mergeBarRecords deduplicates records by (symbol, timestamp), preferring
// incoming over existing. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
