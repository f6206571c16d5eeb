package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openquant/crucible/internal/api/response"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/storage/results"
)

// defaultListLimit bounds listings when the client does not paginate.
const defaultListLimit = 50

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}
	total, err := s.store.CountRuns(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if runs == nil {
		runs = []results.RunRecord{}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

// parseFilter reads listing criteria off the query string: kind,
// strategy, symbol, state, from/to dates, limit, offset.
func parseFilter(r *http.Request) (results.ListFilter, error) {
	q := r.URL.Query()
	filter := results.ListFilter{
		Kind:     results.Kind(q.Get("kind")),
		Strategy: q.Get("strategy"),
		Symbol:   q.Get("symbol"),
		State:    backtest.State(q.Get("state")),
		Limit:    defaultListLimit,
	}

	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse("2006-01-02", v); err != nil {
			return results.ListFilter{}, fmt.Errorf("from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse("2006-01-02", v); err != nil {
			return results.ListFilter{}, fmt.Errorf("to: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return results.ListFilter{}, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return results.ListFilter{}, fmt.Errorf("offset must not be negative")
		}
		filter.Offset = n
	}
	return filter, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		response.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runSeries guards a series read behind run existence, so unknown run
// IDs answer 404 rather than an empty series.
func (s *Server) runSeries(w http.ResponseWriter, r *http.Request, key string, fetch func(ctx context.Context, id string) (any, error)) {
	id := r.PathValue("id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		response.Fail(w, err)
		return
	}
	series, err := fetch(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"run_id": id,
		key:      series,
	})
}

func (s *Server) getRunNAV(w http.ResponseWriter, r *http.Request) {
	s.runSeries(w, r, "nav", func(ctx context.Context, id string) (any, error) {
		nav, err := s.store.GetNAV(ctx, id)
		if err != nil {
			return nil, err
		}
		if nav == nil {
			nav = []core.NavSnapshot{}
		}
		return nav, nil
	})
}

func (s *Server) getRunTrades(w http.ResponseWriter, r *http.Request) {
	s.runSeries(w, r, "trades", func(ctx context.Context, id string) (any, error) {
		trades, err := s.store.GetTrades(ctx, id)
		if err != nil {
			return nil, err
		}
		if trades == nil {
			trades = []core.Trade{}
		}
		return trades, nil
	})
}

func (s *Server) getRunWindows(w http.ResponseWriter, r *http.Request) {
	s.runSeries(w, r, "windows", func(ctx context.Context, id string) (any, error) {
		rows, err := s.store.GetWindows(ctx, id)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []results.WindowRow{}
		}
		return rows, nil
	})
}

func (s *Server) getRunGenerations(w http.ResponseWriter, r *http.Request) {
	s.runSeries(w, r, "generations", func(ctx context.Context, id string) (any, error) {
		rows, err := s.store.GetGenerations(ctx, id)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []results.GenerationRow{}
		}
		return rows, nil
	})
}
