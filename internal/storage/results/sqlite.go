package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
)

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	symbols     TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	start_at    INTEGER,
	end_at      INTEGER,
	seed        INTEGER NOT NULL,
	config_json TEXT,
	fingerprint TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	stats_json  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS nav_points (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	ts              INTEGER NOT NULL,
	cash            REAL NOT NULL,
	positions_value REAL NOT NULL,
	nav             REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS trades (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	side        TEXT NOT NULL,
	quantity    REAL NOT NULL,
	price       REAL NOT NULL,
	commission  REAL NOT NULL,
	slippage    REAL NOT NULL,
	realized_pl REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS wf_windows (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	train_start INTEGER,
	train_end   INTEGER,
	test_start  INTEGER,
	test_end    INTEGER,
	seed        INTEGER NOT NULL,
	params_json TEXT,
	fitness     REAL NOT NULL,
	is_cagr     REAL NOT NULL,
	oos_cagr    REAL NOT NULL,
	oos_return  REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS ea_generations (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	win      INTEGER NOT NULL,
	idx      INTEGER NOT NULL,
	best     REAL NOT NULL,
	mean     REAL NOT NULL,
	worst    REAL NOT NULL,
	failures INTEGER NOT NULL,
	PRIMARY KEY (run_id, win, idx)
);
`

const runColumns = `id, kind, strategy, symbols, timeframe, start_at, end_at, seed,
	config_json, fingerprint, state, error, stats_json, created_at, finished_at`

// SQLiteStore is the durable run store, backed by a single SQLite file
// in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the results database at path. Paths with a
// file: scheme pass through untouched so tests can use URI databases.
func Open(path string) (*SQLiteStore, error) {
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		path = abs
	}

	connStr := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run record by ID. The upsert never
// deletes the row, so cascading series survive state transitions.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("run record has empty id"))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	symbols, err := json.Marshal(rec.Symbols)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			strategy = excluded.strategy,
			symbols = excluded.symbols,
			timeframe = excluded.timeframe,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			seed = excluded.seed,
			config_json = excluded.config_json,
			fingerprint = excluded.fingerprint,
			state = excluded.state,
			error = excluded.error,
			stats_json = excluded.stats_json,
			created_at = excluded.created_at,
			finished_at = excluded.finished_at`,
		rec.ID, string(rec.Kind), rec.Strategy, string(symbols), string(rec.Timeframe),
		toNano(rec.Start), toNano(rec.End), rec.Seed,
		rawOrNil(rec.Config), rec.Fingerprint, string(rec.State), rec.Error,
		string(stats), rec.CreatedAt.UnixNano(), toNano(rec.FinishedAt))
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", id))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return rec, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter ListFilter) ([]RunRecord, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	defer rows.Close()

	result := make([]RunRecord, 0)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return result, nil
}

// CountRuns returns the number of runs matching the filter.
func (s *SQLiteStore) CountRuns(ctx context.Context, filter ListFilter) (int, error) {
	where, args := buildWhere(filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&count)
	if err != nil {
		return 0, core.WrapError(core.ErrStoreFailed, err)
	}
	return count, nil
}

// DeleteRun removes a run; its series follow by cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	if n == 0 {
		return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", id))
	}
	return nil
}

// SaveNAV stores the NAV series for a run, replacing any previous one.
func (s *SQLiteStore) SaveNAV(ctx context.Context, runID string, nav []core.NavSnapshot) error {
	return s.replaceSeries(ctx, runID,
		`DELETE FROM nav_points WHERE run_id = ?`,
		`INSERT INTO nav_points (run_id, seq, ts, cash, positions_value, nav) VALUES (?, ?, ?, ?, ?, ?)`,
		len(nav), func(i int) []any {
			p := nav[i]
			return []any{runID, i, p.Time.UnixNano(), p.Cash, p.PositionsValue, p.NAV}
		})
}

// GetNAV returns the NAV series for a run, empty when none was saved.
func (s *SQLiteStore) GetNAV(ctx context.Context, runID string) ([]core.NavSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, cash, positions_value, nav FROM nav_points WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	defer rows.Close()

	result := make([]core.NavSnapshot, 0)
	for rows.Next() {
		var ts int64
		var p core.NavSnapshot
		if err := rows.Scan(&ts, &p.Cash, &p.PositionsValue, &p.NAV); err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		p.Time = time.Unix(0, ts).UTC()
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return result, nil
}

// SaveTrades stores the trade log for a run, replacing any previous one.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, trades []core.Trade) error {
	return s.replaceSeries(ctx, runID,
		`DELETE FROM trades WHERE run_id = ?`,
		`INSERT INTO trades (run_id, seq, symbol, ts, side, quantity, price, commission, slippage, realized_pl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(trades), func(i int) []any {
			t := trades[i]
			return []any{runID, i, t.Symbol, t.Time.UnixNano(), string(t.Side),
				t.Quantity, t.Price, t.Commission, t.Slippage, t.RealizedPL}
		})
}

// GetTrades returns the trade log for a run, empty when none was saved.
func (s *SQLiteStore) GetTrades(ctx context.Context, runID string) ([]core.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, side, quantity, price, commission, slippage, realized_pl
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	defer rows.Close()

	result := make([]core.Trade, 0)
	for rows.Next() {
		var ts int64
		var side string
		var t core.Trade
		if err := rows.Scan(&t.Symbol, &ts, &side, &t.Quantity, &t.Price,
			&t.Commission, &t.Slippage, &t.RealizedPL); err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		t.Time = time.Unix(0, ts).UTC()
		t.Side = core.Side(side)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return result, nil
}

// SaveWindows stores walk-forward window rows, replacing any previous ones.
func (s *SQLiteStore) SaveWindows(ctx context.Context, runID string, rows []WindowRow) error {
	return s.replaceSeries(ctx, runID,
		`DELETE FROM wf_windows WHERE run_id = ?`,
		`INSERT INTO wf_windows (run_id, idx, train_start, train_end, test_start, test_end,
		 seed, params_json, fitness, is_cagr, oos_cagr, oos_return)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			w := rows[i]
			return []any{runID, w.Window, toNano(w.TrainStart), toNano(w.TrainEnd),
				toNano(w.TestStart), toNano(w.TestEnd), w.Seed, rawOrNil(w.Params),
				w.Fitness, w.ISCAGR, w.OOSCAGR, w.OOSReturn}
		})
}

// GetWindows returns the window rows for a run, empty when none were saved.
func (s *SQLiteStore) GetWindows(ctx context.Context, runID string) ([]WindowRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, train_start, train_end, test_start, test_end, seed, params_json,
		       fitness, is_cagr, oos_cagr, oos_return
		FROM wf_windows WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	defer rows.Close()

	result := make([]WindowRow, 0)
	for rows.Next() {
		var w WindowRow
		var trainStart, trainEnd, testStart, testEnd sql.NullInt64
		var params sql.NullString
		if err := rows.Scan(&w.Window, &trainStart, &trainEnd, &testStart, &testEnd,
			&w.Seed, &params, &w.Fitness, &w.ISCAGR, &w.OOSCAGR, &w.OOSReturn); err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		w.TrainStart = fromNano(trainStart)
		w.TrainEnd = fromNano(trainEnd)
		w.TestStart = fromNano(testStart)
		w.TestEnd = fromNano(testEnd)
		if params.Valid && params.String != "" {
			w.Params = json.RawMessage(params.String)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return result, nil
}

// SaveGenerations stores search generation rows, replacing any previous ones.
func (s *SQLiteStore) SaveGenerations(ctx context.Context, runID string, rows []GenerationRow) error {
	return s.replaceSeries(ctx, runID,
		`DELETE FROM ea_generations WHERE run_id = ?`,
		`INSERT INTO ea_generations (run_id, win, idx, best, mean, worst, failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			g := rows[i]
			return []any{runID, g.Window, g.Generation, g.Best, g.Mean, g.Worst, g.Failures}
		})
}

// GetGenerations returns the generation rows for a run, empty when none were saved.
func (s *SQLiteStore) GetGenerations(ctx context.Context, runID string) ([]GenerationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT win, idx, best, mean, worst, failures
		FROM ea_generations WHERE run_id = ? ORDER BY win, idx`, runID)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	defer rows.Close()

	result := make([]GenerationRow, 0)
	for rows.Next() {
		var g GenerationRow
		if err := rows.Scan(&g.Window, &g.Generation, &g.Best, &g.Mean, &g.Worst, &g.Failures); err != nil {
			return nil, core.WrapError(core.ErrStoreFailed, err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, err)
	}
	return result, nil
}

// replaceSeries swaps a run's series rows inside one transaction. The
// run must exist first so series can never outlive or precede their
// record.
func (s *SQLiteStore) replaceSeries(ctx context.Context, runID, deleteSQL, insertSQL string, n int, bind func(i int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", runID))
		}
		return core.WrapError(core.ErrStoreFailed, err)
	}

	if _, err := tx.ExecContext(ctx, deleteSQL, runID); err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, bind(i)...); err != nil {
			return core.WrapError(core.ErrStoreFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var kind, timeframe, state, symbols, stats string
	var startAt, endAt, finishedAt sql.NullInt64
	var createdAt int64
	var config sql.NullString

	err := row.Scan(&rec.ID, &kind, &rec.Strategy, &symbols, &timeframe,
		&startAt, &endAt, &rec.Seed, &config, &rec.Fingerprint, &state,
		&rec.Error, &stats, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Timeframe = core.Timeframe(timeframe)
	rec.State = backtest.State(state)
	rec.Start = fromNano(startAt)
	rec.End = fromNano(endAt)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.FinishedAt = fromNano(finishedAt)
	if config.Valid && config.String != "" {
		rec.Config = json.RawMessage(config.String)
	}
	if err := json.Unmarshal([]byte(symbols), &rec.Symbols); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
		return nil, err
	}
	return &rec, nil
}

func buildWhere(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Strategy != "" {
		conds = append(conds, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	if filter.Symbol != "" {
		conds = append(conds, "symbols LIKE ?")
		args = append(args, `%"`+filter.Symbol+`"%`)
	}
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// toNano converts a time to its storable form, NULL for the zero time.
// The zero time is outside the int64 nanosecond range, so it can never
// masquerade as a real timestamp.
func toNano(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNano(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
