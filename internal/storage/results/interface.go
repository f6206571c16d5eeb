// Package results persists completed runs: the record that identifies
// a run, its performance stats, and the series behind them (NAV,
// trades, optimization diagnostics). The memory backend serves tests
// and ephemeral serve-mode runs; sqlite is the durable one.
package results

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
)

// Kind distinguishes the three run types sharing one store.
type Kind string

const (
	KindBacktest    Kind = "backtest"
	KindWalkForward Kind = "walkforward"
	KindEvolution   Kind = "evolution"
)

// RunRecord identifies one run and everything needed to reproduce it:
// strategy, universe, data range, seed, the config snapshot, and the
// fingerprint of the dataset it was computed from.
type RunRecord struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Strategy    string          `json:"strategy"`
	Symbols     []string        `json:"symbols"`
	Timeframe   core.Timeframe  `json:"timeframe"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Seed        int64           `json:"seed"`
	Config      json.RawMessage `json:"config,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	State       backtest.State  `json:"state"`
	Error       string          `json:"error,omitempty"`
	Stats       backtest.Stats  `json:"stats"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// WindowRow is one walk-forward window flattened for persistence.
// Params holds the winning parameter set as JSON.
type WindowRow struct {
	Window     int             `json:"window"`
	TrainStart time.Time       `json:"train_start"`
	TrainEnd   time.Time       `json:"train_end"`
	TestStart  time.Time       `json:"test_start"`
	TestEnd    time.Time       `json:"test_end"`
	Seed       int64           `json:"seed"`
	Params     json.RawMessage `json:"params,omitempty"`
	Fitness    float64         `json:"fitness"`
	ISCAGR     float64         `json:"is_cagr"`
	OOSCAGR    float64         `json:"oos_cagr"`
	OOSReturn  float64         `json:"oos_return"`
}

// GenerationRow is one search generation flattened for persistence.
// Window is -1 for searches that ran outside walk-forward validation.
type GenerationRow struct {
	Window     int     `json:"window"`
	Generation int     `json:"generation"`
	Best       float64 `json:"best"`
	Mean       float64 `json:"mean"`
	Worst      float64 `json:"worst"`
	Failures   int     `json:"failures"`
}

// ListFilter defines criteria for listing runs. Zero fields match
// everything; From and To bound CreatedAt inclusively.
type ListFilter struct {
	Kind     Kind
	Strategy string
	Symbol   string
	State    backtest.State
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Store is the persistence interface for runs. SaveRun upserts by ID
// so a record can move through its lifecycle states; the series savers
// replace any previously stored series for the run and require the run
// record to exist first.
type Store interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter ListFilter) ([]RunRecord, error)
	CountRuns(ctx context.Context, filter ListFilter) (int, error)
	DeleteRun(ctx context.Context, id string) error

	SaveNAV(ctx context.Context, runID string, nav []core.NavSnapshot) error
	GetNAV(ctx context.Context, runID string) ([]core.NavSnapshot, error)

	SaveTrades(ctx context.Context, runID string, trades []core.Trade) error
	GetTrades(ctx context.Context, runID string) ([]core.Trade, error)

	SaveWindows(ctx context.Context, runID string, rows []WindowRow) error
	GetWindows(ctx context.Context, runID string) ([]WindowRow, error)

	SaveGenerations(ctx context.Context, runID string, rows []GenerationRow) error
	GetGenerations(ctx context.Context, runID string) ([]GenerationRow, error)

	Close() error
}

// RecordFromResult builds the run record for a finished backtest,
// snapshotting its config so the run can be reproduced exactly.
func RecordFromResult(kind Kind, res *backtest.Result, seed int64, fingerprint string) (RunRecord, error) {
	cfg, err := json.Marshal(res.Config)
	if err != nil {
		return RunRecord{}, core.WrapError(core.ErrStoreFailed, err)
	}
	return RunRecord{
		ID:          res.RunID,
		Kind:        kind,
		Strategy:    res.Strategy,
		Symbols:     res.Universe,
		Timeframe:   res.Timeframe,
		Start:       res.Start,
		End:         res.End,
		Seed:        seed,
		Config:      cfg,
		Fingerprint: fingerprint,
		State:       res.State,
		Error:       res.Error,
		Stats:       res.Stats,
		CreatedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}, nil
}
