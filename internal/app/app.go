// Package app wires the engine packages into runnable operations. The
// CLI subcommands and the serve-mode API both drive runs through this
// package, so a job submitted over HTTP takes exactly the path the
// backtest subcommand takes: load data, run, persist, archive, notify.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/collector"
	"github.com/openquant/crucible/internal/collector/yahoo"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/llm"
	"github.com/openquant/crucible/internal/llm/factory"
	"github.com/openquant/crucible/internal/metrics"
	"github.com/openquant/crucible/internal/notifier"
	"github.com/openquant/crucible/internal/notifier/webhook"
	"github.com/openquant/crucible/internal/report"
	"github.com/openquant/crucible/internal/storage/archive"
	"github.com/openquant/crucible/internal/storage/results"
	"github.com/openquant/crucible/internal/strategy"
	"github.com/openquant/crucible/internal/strategy/fixedweight"
	"github.com/openquant/crucible/internal/strategy/macross"
	"github.com/openquant/crucible/internal/strategy/meanrev"
)

// App is the platform orchestrator: one instance owns the strategy and
// collector registries, the results store, the artifact archive and the
// optional analyst, and turns RunSpecs into persisted runs.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	strategies *strategy.Registry
	collectors *collector.Registry
	results    results.Store
	reports    *report.Writer
	analyst    *llm.Analyst
	notifiers  *notifier.Registry
	metrics    *metrics.Registry
}

// New builds an App from a validated configuration. Backends are
// selected here: the results store, the artifact archive, the LLM
// provider when notes are enabled, and one webhook per configured
// notifier. The built-in strategies and the yahoo collector are
// registered so every run path sees the same closed set.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("nil config"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	strategies := strategy.NewRegistry()
	if err := registerBuiltins(strategies); err != nil {
		return nil, err
	}

	collectors := collector.NewRegistry()
	if cc, ok := cfg.Data.Collectors["yahoo"]; !ok || cc.Enabled {
		collectors.Register(yahoo.New())
	}

	store, err := openResults(cfg.Storage.Results)
	if err != nil {
		return nil, err
	}

	blobs, err := openArchive(cfg.Storage.Archive)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		strategies: strategies,
		collectors: collectors,
		results:    store,
		reports:    report.NewWriter(archive.NewArchive(blobs), logger),
		notifiers:  notifier.NewRegistry(),
	}

	if cfg.LLM.Enabled {
		provider, err := factory.New(cfg.LLM)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.analyst = llm.NewAnalyst(provider, logger, llm.AnalystConfig{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
	}

	for name, nc := range cfg.Notifiers {
		if !nc.Enabled {
			continue
		}
		wh, err := webhook.New(name, nc.URL, nc.Headers, nc.Timeout)
		if err != nil {
			store.Close()
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := a.notifiers.Register(wh); err != nil {
			store.Close()
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
	}

	return a, nil
}

func registerBuiltins(r *strategy.Registry) error {
	builtins := map[string]strategy.Factory{
		"fixedweight": fixedweight.New,
		"macross":     macross.New,
		"meanrev":     meanrev.New,
	}
	for name, f := range builtins {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

func openResults(cfg config.ResultsConfig) (results.Store, error) {
	switch cfg.Backend {
	case "memory":
		return results.NewMemoryStore(cfg.MaxRuns), nil
	case "sqlite":
		return results.Open(cfg.Path)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown results backend %q", cfg.Backend))
	}
}

func openArchive(cfg config.ArchiveConfig) (archive.Storage, error) {
	switch cfg.Backend {
	case "localfs":
		return archive.NewLocalFS(cfg.Path)
	case "s3":
		return archive.NewS3(cfg.S3)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive backend %q", cfg.Backend))
	}
}

// Close releases the results store. Safe to call once, after all runs
// have finished.
func (a *App) Close() error {
	return a.results.Close()
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Results exposes the run store for read paths (API listings, CLI).
func (a *App) Results() results.Store { return a.results }

// Strategies exposes the strategy registry.
func (a *App) Strategies() *strategy.Registry { return a.strategies }

// Collectors exposes the collector registry.
func (a *App) Collectors() *collector.Registry { return a.collectors }

// Metrics returns the metrics registry, nil when disabled. All registry
// methods are nil-safe so callers never need the check.
func (a *App) Metrics() *metrics.Registry { return a.metrics }
