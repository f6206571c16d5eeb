package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openquant/crucible/internal/collector"
	"github.com/openquant/crucible/internal/core"
)

func TestYahoo_ImplementsCollector(t *testing.T) {
	var _ collector.Collector = (*Yahoo)(nil)
}

func TestYahoo_Name(t *testing.T) {
	y := New()
	if y.Name() != "yahoo" {
		t.Errorf("expected 'yahoo', got '%s'", y.Name())
	}
}

func TestValidateSymbol(t *testing.T) {
	valid := []string{"AAPL", "MSFT", "600519.SH", "0700.HK", "BRK.B"}
	for _, s := range valid {
		if err := validateSymbol(s); err != nil {
			t.Errorf("validateSymbol(%s) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "AAPL;DROP", "../../etc", "verylongsymbolname.XXXXX"}
	for _, s := range invalid {
		if err := validateSymbol(s); err == nil {
			t.Errorf("validateSymbol(%s) = nil, want error", s)
		}
	}
}

func TestToYahooSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AAPL", "AAPL"},
		{"0700.HK", "0700.HK"},
		{"600519.SH", "600519.SS"}, // Shanghai -> SS for Yahoo
		{"000001.SZ", "000001.SZ"},
	}

	for _, tc := range tests {
		got := toYahooSymbol(tc.input)
		if got != tc.expected {
			t.Errorf("toYahooSymbol(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestToYahooInterval(t *testing.T) {
	tests := []struct {
		tf       core.Timeframe
		expected string
	}{
		{core.Timeframe1m, "1m"},
		{core.Timeframe1h, "1h"},
		{core.Timeframe1d, "1d"},
		{core.Timeframe1w, "1wk"},
	}

	for _, tc := range tests {
		got, err := toYahooInterval(tc.tf)
		if err != nil {
			t.Errorf("toYahooInterval(%s) returned error: %v", tc.tf, err)
		}
		if got != tc.expected {
			t.Errorf("toYahooInterval(%s) = %s, want %s", tc.tf, got, tc.expected)
		}
	}

	if _, err := toYahooInterval(core.Timeframe4h); err == nil {
		t.Error("expected error for 4h timeframe, yahoo has no such interval")
	}
}

// chartJSON builds a minimal chart API response with the given rows.
// A nil open marks the row as missing.
func chartJSON(timestamps []int64, opens []string) string {
	ts := ""
	for i, v := range timestamps {
		if i > 0 {
			ts += ","
		}
		ts += fmt.Sprintf("%d", v)
	}
	open := ""
	vol := ""
	for i, v := range opens {
		if i > 0 {
			open += ","
			vol += ","
		}
		open += v
		if v == "null" {
			vol += "null"
		} else {
			vol += "1000"
		}
	}
	return fmt.Sprintf(`{"chart":{"result":[{
		"timestamp":[%s],
		"indicators":{"quote":[{
			"open":[%s],"high":[%s],"low":[%s],"close":[%s],
			"volume":[%s]
		}]}
	}],"error":null}}`, ts, open, open, open, open, vol)
}

func TestFetchHistory(t *testing.T) {
	day := int64(86400)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "1d" {
			t.Errorf("expected interval=1d, got %s", got)
		}
		if r.URL.Query().Get("period1") == "" || r.URL.Query().Get("period2") == "" {
			t.Error("expected period1/period2 query params")
		}
		fmt.Fprint(w, chartJSON(
			[]int64{base, base + day, base + 2*day},
			[]string{"100.5", "null", "102.25"},
		))
	}))
	defer srv.Close()

	y := New()
	y.baseURL = srv.URL

	start := time.Unix(base, 0)
	end := time.Unix(base+3*day, 0)
	bars, err := y.FetchHistory(context.Background(), "AAPL", start, end, core.Timeframe1d)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}

	// The null row must be skipped, not zero-filled.
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	first := bars[0]
	if first.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", first.Symbol)
	}
	if first.Timeframe != core.Timeframe1d {
		t.Errorf("expected timeframe 1d, got %s", first.Timeframe)
	}
	if first.Open != 100.5 || first.Close != 100.5 {
		t.Errorf("unexpected prices: open=%v close=%v", first.Open, first.Close)
	}
	if first.Volume != 1000 {
		t.Errorf("expected volume 1000, got %v", first.Volume)
	}
	if !first.Time.Equal(time.Unix(base, 0)) {
		t.Errorf("expected time %v, got %v", time.Unix(base, 0).UTC(), first.Time)
	}
	if first.Time.Location() != time.UTC {
		t.Errorf("expected UTC bar time, got %v", first.Time.Location())
	}
	if !bars[1].Time.Equal(time.Unix(base+2*day, 0)) {
		t.Errorf("expected second bar to skip to %v, got %v", time.Unix(base+2*day, 0).UTC(), bars[1].Time)
	}
}

func TestFetchHistory_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	y := New()
	y.baseURL = srv.URL

	_, err := y.FetchHistory(context.Background(), "ZZZZ", time.Now().AddDate(0, -1, 0), time.Now(), core.Timeframe1d)
	if !errors.Is(err, core.ErrCollectorFailed) {
		t.Errorf("expected ErrCollectorFailed, got %v", err)
	}
}

func TestFetchHistory_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
	}))
	defer srv.Close()

	y := New()
	y.baseURL = srv.URL

	_, err := y.FetchHistory(context.Background(), "AAPL", time.Now().AddDate(0, -1, 0), time.Now(), core.Timeframe1d)
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestFetchHistory_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	y := New()
	y.baseURL = srv.URL

	_, err := y.FetchHistory(context.Background(), "AAPL", time.Now().AddDate(0, -1, 0), time.Now(), core.Timeframe1d)
	if !errors.Is(err, core.ErrCollectorFailed) {
		t.Errorf("expected ErrCollectorFailed, got %v", err)
	}
}

func TestFetchHistory_RejectsBadSymbol(t *testing.T) {
	y := New()
	if _, err := y.FetchHistory(context.Background(), "bad symbol!", time.Now(), time.Now(), core.Timeframe1d); err == nil {
		t.Error("expected error for invalid symbol")
	}
}
