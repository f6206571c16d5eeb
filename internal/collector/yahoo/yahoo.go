// Package yahoo collects historical bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openquant/crucible/internal/core"
)

const defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// validSymbol matches stock symbols like AAPL, MSFT, 600519.SH, 0700.HK
var validSymbol = regexp.MustCompile(`^[A-Za-z0-9]{1,10}(\.[A-Za-z]{1,4})?$`)

// validateSymbol checks if a symbol has valid format
func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 20 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// Yahoo implements the Yahoo Finance collector
type Yahoo struct {
	client  *http.Client
	baseURL string
}

// New creates a new Yahoo collector
func New() *Yahoo {
	return &Yahoo{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

// toYahooSymbol converts internal symbol format to Yahoo format
func toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

// toYahooInterval maps a timeframe to the chart API interval parameter.
// Yahoo has no 4h interval, so that timeframe is rejected rather than
// silently fetched at the wrong resolution.
func toYahooInterval(tf core.Timeframe) (string, error) {
	switch tf {
	case core.Timeframe1m:
		return "1m", nil
	case core.Timeframe5m:
		return "5m", nil
	case core.Timeframe15m:
		return "15m", nil
	case core.Timeframe1h:
		return "1h", nil
	case core.Timeframe1d:
		return "1d", nil
	case core.Timeframe1w:
		return "1wk", nil
	default:
		return "", fmt.Errorf("timeframe %s not supported by yahoo", tf)
	}
}

// FetchHistory fetches historical bars for one symbol.
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, start, end time.Time, timeframe core.Timeframe) ([]core.Bar, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	interval, err := toYahooInterval(timeframe)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s?interval=%s&period1=%d&period2=%d",
		y.baseURL, toYahooSymbol(symbol), interval, start.Unix(), end.Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.WrapError(core.ErrCollectorTimeout, err)
		}
		return nil, core.WrapError(core.ErrCollectorFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("decoding response: %w", err))
	}

	if result.Chart.Error != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("yahoo error: %s", result.Chart.Error.Description))
	}

	if len(result.Chart.Result) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no data for symbol: %s", symbol))
	}

	r := result.Chart.Result[0]
	timestamps := r.Timestamp
	if len(r.Indicators.Quote) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no quote data for symbol: %s", symbol))
	}
	quotes := r.Indicators.Quote[0]

	bars := make([]core.Bar, 0, len(timestamps))
	for i, ts := range timestamps {
		if quotes.Open[i] == nil || quotes.High[i] == nil || quotes.Low[i] == nil || quotes.Close[i] == nil {
			continue // Skip missing data
		}
		volume := 0.0
		if quotes.Volume[i] != nil {
			volume = float64(*quotes.Volume[i])
		}
		bars = append(bars, core.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Time:      time.Unix(int64(ts), 0).UTC(),
			Open:      *quotes.Open[i],
			High:      *quotes.High[i],
			Low:       *quotes.Low[i],
			Close:     *quotes.Close[i],
			Volume:    volume,
		})
	}

	return bars, nil
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int      `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int     `json:"volume"`
}
