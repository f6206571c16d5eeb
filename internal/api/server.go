// Package api serves the platform over HTTP: runs are submitted as
// async jobs, polled until they finish, and read back from the results
// store by run ID. The job and run routes under /api/v1 sit behind the
// API-key middleware; health and metrics stay open for probes and
// scrapers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/api/job"
	"github.com/openquant/crucible/internal/api/middleware"
	"github.com/openquant/crucible/internal/api/response"
	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/metrics"
	"github.com/openquant/crucible/internal/report"
	"github.com/openquant/crucible/internal/storage/results"
	"github.com/openquant/crucible/internal/walkforward"
)

// Runner executes runs end to end. *app.App satisfies it; tests
// substitute fakes.
type Runner interface {
	RunBacktest(ctx context.Context, spec app.RunSpec) (*backtest.Result, error)
	RunWalkForward(ctx context.Context, spec app.RunSpec) (*walkforward.Report, error)
	RunEvolution(ctx context.Context, spec app.RunSpec) (*report.EvolutionReport, error)
}

// Server is the serve-mode HTTP server.
type Server struct {
	cfg         config.ServerConfig
	runner      Runner
	store       results.Store
	metrics     *metrics.Registry
	metricsPath string
	jobs        *job.Store
	logger      *zap.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP surface over an assembled platform. reg may
// be nil, in which case the metrics endpoint is not mounted.
func NewServer(cfg *config.Config, runner Runner, store results.Store, reg *metrics.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	s := &Server{
		cfg:         cfg.Server,
		runner:      runner,
		store:       store,
		metrics:     reg,
		metricsPath: path,
		jobs:        job.NewStore(cfg.Server.MaxJobs, cfg.Server.JobTTL),
		logger:      logger,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the full route tree wrapped in the logging and
// metrics middleware.
func (s *Server) Handler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/backtests", s.createBacktest)
	apiMux.HandleFunc("POST /api/v1/walkforwards", s.createWalkForward)
	apiMux.HandleFunc("POST /api/v1/evolutions", s.createEvolution)
	apiMux.HandleFunc("GET /api/v1/jobs", s.listJobs)
	apiMux.HandleFunc("GET /api/v1/jobs/{id}", s.getJob)
	apiMux.HandleFunc("GET /api/v1/runs", s.listRuns)
	apiMux.HandleFunc("GET /api/v1/runs/{id}", s.getRun)
	apiMux.HandleFunc("DELETE /api/v1/runs/{id}", s.deleteRun)
	apiMux.HandleFunc("GET /api/v1/runs/{id}/nav", s.getRunNAV)
	apiMux.HandleFunc("GET /api/v1/runs/{id}/trades", s.getRunTrades)
	apiMux.HandleFunc("GET /api/v1/runs/{id}/windows", s.getRunWindows)
	apiMux.HandleFunc("GET /api/v1/runs/{id}/generations", s.getRunGenerations)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/api/v1/", middleware.APIKeyAuth(s.cfg.APIKey)(apiMux))

	var h http.Handler = mux
	h = metrics.HTTPMiddleware(s.metrics)(h)
	h = metrics.LoggingMiddleware(s.logger)(h)
	return h
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight
// requests up to the context deadline. Background jobs keep running;
// their outcome lands in the results store either way.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
