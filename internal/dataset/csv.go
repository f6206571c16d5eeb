package dataset

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/openquant/crucible/internal/core"
)

// csvBar is the on-disk CSV row. The symbol and timeframe are not in the
// file; they come from the file's location in the data directory.
type csvBar struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    float64 `csv:"volume"`
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ReadCSV loads bars for one symbol/timeframe from a CSV file with the
// header timestamp,open,high,low,close,volume.
func ReadCSV(path, symbol string, tf core.Timeframe) ([]core.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var rows []csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	bars := make([]core.Bar, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		bars = append(bars, core.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Time:      ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return bars, nil
}

// WriteCSV writes bars to a CSV file with RFC3339 timestamps.
func WriteCSV(path string, bars []core.Bar) error {
	rows := make([]csvBar, len(bars))
	for i, b := range bars {
		rows[i] = csvBar{
			Timestamp: b.Time.UTC().Format(time.RFC3339),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
