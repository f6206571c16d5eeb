package results

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openquant/crucible/internal/core"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory run store. It caps the number of
// retained runs and evicts the oldest record, series included, when
// the cap is exceeded.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        []RunRecord
	nav         map[string][]core.NavSnapshot
	trades      map[string][]core.Trade
	windows     map[string][]WindowRow
	generations map[string][]GenerationRow
	maxSize     int
}

// NewMemoryStore creates an in-memory store retaining at most maxSize runs.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		runs:        make([]RunRecord, 0, maxSize),
		nav:         make(map[string][]core.NavSnapshot),
		trades:      make(map[string][]core.Trade),
		windows:     make(map[string][]WindowRow),
		generations: make(map[string][]GenerationRow),
		maxSize:     maxSize,
	}
}

// SaveRun inserts or replaces a run record by ID.
func (m *MemoryStore) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("run record has empty id"))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == rec.ID {
			m.runs[i] = rec
			return nil
		}
	}

	m.runs = append(m.runs, rec)
	if len(m.runs) > m.maxSize {
		evicted := m.runs[0]
		m.runs = m.runs[1:]
		m.dropSeries(evicted.ID)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (m *MemoryStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.runs {
		if m.runs[i].ID == id {
			rec := m.runs[i]
			return &rec, nil
		}
	}
	return nil, core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", id))
}

// ListRuns returns runs matching the filter, newest first.
func (m *MemoryStore) ListRuns(ctx context.Context, filter ListFilter) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]RunRecord, 0)
	for _, rec := range m.runs {
		if matches(rec, filter) {
			result = append(result, rec)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Offset >= len(result) {
		return []RunRecord{}, nil
	}
	if filter.Offset > 0 {
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CountRuns returns the number of runs matching the filter.
func (m *MemoryStore) CountRuns(ctx context.Context, filter ListFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.runs {
		if matches(rec, filter) {
			count++
		}
	}
	return count, nil
}

// DeleteRun removes a run and all its series.
func (m *MemoryStore) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == id {
			m.runs = append(m.runs[:i], m.runs[i+1:]...)
			m.dropSeries(id)
			return nil
		}
	}
	return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", id))
}

// SaveNAV stores the NAV series for a run, replacing any previous one.
func (m *MemoryStore) SaveNAV(ctx context.Context, runID string, nav []core.NavSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(runID) {
		return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", runID))
	}
	m.nav[runID] = append([]core.NavSnapshot(nil), nav...)
	return nil
}

// GetNAV returns the NAV series for a run, empty when none was saved.
func (m *MemoryStore) GetNAV(ctx context.Context, runID string) ([]core.NavSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.NavSnapshot(nil), m.nav[runID]...), nil
}

// SaveTrades stores the trade log for a run, replacing any previous one.
func (m *MemoryStore) SaveTrades(ctx context.Context, runID string, trades []core.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(runID) {
		return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", runID))
	}
	m.trades[runID] = append([]core.Trade(nil), trades...)
	return nil
}

// GetTrades returns the trade log for a run, empty when none was saved.
func (m *MemoryStore) GetTrades(ctx context.Context, runID string) ([]core.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Trade(nil), m.trades[runID]...), nil
}

// SaveWindows stores walk-forward window rows, replacing any previous ones.
func (m *MemoryStore) SaveWindows(ctx context.Context, runID string, rows []WindowRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(runID) {
		return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", runID))
	}
	m.windows[runID] = append([]WindowRow(nil), rows...)
	return nil
}

// GetWindows returns the window rows for a run, empty when none were saved.
func (m *MemoryStore) GetWindows(ctx context.Context, runID string) ([]WindowRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]WindowRow(nil), m.windows[runID]...), nil
}

// SaveGenerations stores search generation rows, replacing any previous ones.
func (m *MemoryStore) SaveGenerations(ctx context.Context, runID string, rows []GenerationRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(runID) {
		return core.WrapError(core.ErrRunNotFound, fmt.Errorf("id %s", runID))
	}
	m.generations[runID] = append([]GenerationRow(nil), rows...)
	return nil
}

// GetGenerations returns the generation rows for a run, empty when none were saved.
func (m *MemoryStore) GetGenerations(ctx context.Context, runID string) ([]GenerationRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]GenerationRow(nil), m.generations[runID]...), nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) exists(id string) bool {
	for i := range m.runs {
		if m.runs[i].ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryStore) dropSeries(id string) {
	delete(m.nav, id)
	delete(m.trades, id)
	delete(m.windows, id)
	delete(m.generations, id)
}

func matches(rec RunRecord, filter ListFilter) bool {
	if filter.Kind != "" && rec.Kind != filter.Kind {
		return false
	}
	if filter.Strategy != "" && rec.Strategy != filter.Strategy {
		return false
	}
	if filter.State != "" && rec.State != filter.State {
		return false
	}
	if filter.Symbol != "" {
		found := false
		for _, s := range rec.Symbols {
			if s == filter.Symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && rec.CreatedAt.After(filter.To) {
		return false
	}
	return true
}
