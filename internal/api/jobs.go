package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/api/job"
	"github.com/openquant/crucible/internal/api/response"
	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/report"
	"github.com/openquant/crucible/internal/storage/results"
	"github.com/openquant/crucible/internal/walkforward"
)

// runTimeout bounds a background run so a wedged one cannot pin a
// worker goroutine forever.
const runTimeout = time.Hour

// RunRequest is the body shared by the three run-creating endpoints.
// Dates are 2006-01-02 days. Seed overrides the configured search seed
// and is ignored by plain backtests.
type RunRequest struct {
	Strategy  string         `json:"strategy"`
	Params    map[string]any `json:"params,omitempty"`
	Symbols   []string       `json:"symbols"`
	Timeframe string         `json:"timeframe"`
	Start     string         `json:"start"`
	End       string         `json:"end"`
	Seed      *int64         `json:"seed,omitempty"`
}

// Spec parses and validates the request into a RunSpec.
func (r RunRequest) Spec() (app.RunSpec, error) {
	spec := app.RunSpec{
		Strategy:  r.Strategy,
		Params:    r.Params,
		Symbols:   r.Symbols,
		Timeframe: core.Timeframe(r.Timeframe),
		Seed:      r.Seed,
	}
	var err error
	if r.Start != "" {
		if spec.Start, err = time.Parse("2006-01-02", r.Start); err != nil {
			return app.RunSpec{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("start: %w", err))
		}
	}
	if r.End != "" {
		if spec.End, err = time.Parse("2006-01-02", r.End); err != nil {
			return app.RunSpec{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("end: %w", err))
		}
	}
	if err := spec.Validate(); err != nil {
		return app.RunSpec{}, err
	}
	return spec, nil
}

func (s *Server) decodeSpec(w http.ResponseWriter, r *http.Request) (app.RunSpec, bool) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return app.RunSpec{}, false
	}
	spec, err := req.Spec()
	if err != nil {
		response.Fail(w, err)
		return app.RunSpec{}, false
	}
	return spec, true
}

func (s *Server) createBacktest(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.decodeSpec(w, r)
	if !ok {
		return
	}
	s.accept(w, string(results.KindBacktest), func(ctx context.Context) (any, error) {
		res, err := s.runner.RunBacktest(ctx, spec)
		if err != nil {
			return nil, err
		}
		return backtestSummary(res), nil
	})
}

func (s *Server) createWalkForward(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.decodeSpec(w, r)
	if !ok {
		return
	}
	s.accept(w, string(results.KindWalkForward), func(ctx context.Context) (any, error) {
		rep, err := s.runner.RunWalkForward(ctx, spec)
		if err != nil {
			return nil, err
		}
		return walkforwardSummary(rep), nil
	})
}

func (s *Server) createEvolution(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.decodeSpec(w, r)
	if !ok {
		return
	}
	s.accept(w, string(results.KindEvolution), func(ctx context.Context) (any, error) {
		rep, err := s.runner.RunEvolution(ctx, spec)
		if err != nil {
			return nil, err
		}
		return evolutionSummary(rep), nil
	})
}

// accept queues one run and answers 202 with the job ID. Clients poll
// the job, then read the full run from the results store by its run
// ID.
func (s *Server) accept(w http.ResponseWriter, kind string, run func(context.Context) (any, error)) {
	j := s.jobs.Create(kind)
	s.gauge(kind)
	go s.work(j.ID, kind, run)
	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

func (s *Server) work(id, kind string, run func(context.Context) (any, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.jobs.Update(id, func(j *job.Job) { j.Status = job.StatusRunning })
	s.gauge(kind)
	defer func() { s.gauge(kind) }()

	summary, err := run(ctx)
	if err != nil {
		s.logger.Warn("job failed",
			zap.String("job_id", id),
			zap.String("kind", kind),
			zap.Error(err))
		s.jobs.Update(id, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = job.FailureFrom(err)
		})
		return
	}
	s.jobs.Update(id, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = summary
	})
}

func (s *Server) gauge(kind string) {
	s.metrics.SetJobsActive(kind, s.jobs.Active(kind))
}

func backtestSummary(res *backtest.Result) map[string]any {
	return map[string]any{
		"run_id": res.RunID,
		"state":  res.State,
		"stats":  res.Stats,
	}
}

func walkforwardSummary(rep *walkforward.Report) map[string]any {
	return map[string]any{
		"run_id":    rep.RunID,
		"windows":   len(rep.Windows),
		"aggregate": rep.Aggregate,
		"flags":     rep.Flags,
	}
}

func evolutionSummary(rep *report.EvolutionReport) map[string]any {
	m := map[string]any{
		"run_id":       rep.RunID,
		"generations":  len(rep.Search.Generations),
		"evaluations":  rep.Search.Evaluations,
		"best_params":  rep.Search.Best.Params,
		"best_fitness": rep.Search.Best.Fitness,
	}
	if rep.Winner != nil {
		m["winner_stats"] = rep.Winner.Stats
	}
	return m
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.jobs.List())
}
