package report

import (
	"time"

	"github.com/gocarina/gocsv"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/walkforward"
)

type navRow struct {
	Time           string  `csv:"time"`
	Cash           float64 `csv:"cash"`
	PositionsValue float64 `csv:"positions_value"`
	NAV            float64 `csv:"nav"`
}

type tradeRow struct {
	Symbol     string  `csv:"symbol"`
	Time       string  `csv:"time"`
	Side       string  `csv:"side"`
	Quantity   float64 `csv:"quantity"`
	Price      float64 `csv:"price"`
	Commission float64 `csv:"commission"`
	Slippage   float64 `csv:"slippage"`
	RealizedPL float64 `csv:"realized_pl"`
}

type windowNavRow struct {
	Window         int     `csv:"window"`
	Time           string  `csv:"time"`
	Cash           float64 `csv:"cash"`
	PositionsValue float64 `csv:"positions_value"`
	NAV            float64 `csv:"nav"`
}

type windowTradeRow struct {
	Window     int     `csv:"window"`
	Symbol     string  `csv:"symbol"`
	Time       string  `csv:"time"`
	Side       string  `csv:"side"`
	Quantity   float64 `csv:"quantity"`
	Price      float64 `csv:"price"`
	Commission float64 `csv:"commission"`
	Slippage   float64 `csv:"slippage"`
	RealizedPL float64 `csv:"realized_pl"`
}

func csvTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func renderNAVCSV(nav []core.NavSnapshot) ([]byte, error) {
	rows := make([]navRow, len(nav))
	for i, p := range nav {
		rows[i] = navRow{
			Time:           csvTime(p.Time),
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			NAV:            p.NAV,
		}
	}
	s, err := gocsv.MarshalString(&rows)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func renderTradesCSV(trades []core.Trade) ([]byte, error) {
	rows := make([]tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = tradeRow{
			Symbol:     t.Symbol,
			Time:       csvTime(t.Time),
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			Price:      t.Price,
			Commission: t.Commission,
			Slippage:   t.Slippage,
			RealizedPL: t.RealizedPL,
		}
	}
	s, err := gocsv.MarshalString(&rows)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func renderWindowNAVCSV(windows []walkforward.WindowResult) ([]byte, error) {
	rows := []windowNavRow{}
	for _, w := range windows {
		if w.Test == nil {
			continue
		}
		for _, p := range w.Test.NAV {
			rows = append(rows, windowNavRow{
				Window:         w.Window.Index,
				Time:           csvTime(p.Time),
				Cash:           p.Cash,
				PositionsValue: p.PositionsValue,
				NAV:            p.NAV,
			})
		}
	}
	s, err := gocsv.MarshalString(&rows)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func renderWindowTradesCSV(windows []walkforward.WindowResult) ([]byte, error) {
	rows := []windowTradeRow{}
	for _, w := range windows {
		if w.Test == nil {
			continue
		}
		for _, t := range w.Test.Trades {
			rows = append(rows, windowTradeRow{
				Window:     w.Window.Index,
				Symbol:     t.Symbol,
				Time:       csvTime(t.Time),
				Side:       string(t.Side),
				Quantity:   t.Quantity,
				Price:      t.Price,
				Commission: t.Commission,
				Slippage:   t.Slippage,
				RealizedPL: t.RealizedPL,
			})
		}
	}
	s, err := gocsv.MarshalString(&rows)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
