// Package config loads and validates the platform configuration. Engine
// packages own their config types; this package composes them into one
// tree, overlays a YAML file and environment variables on the documented
// defaults, and rejects combinations the platform cannot run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openquant/crucible/internal/alert"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/storage/archive"
	"github.com/openquant/crucible/internal/walkforward"
)

// Config is the full platform configuration tree.
type Config struct {
	Run         RunConfig                 `mapstructure:"run"`
	Simulation  backtest.Config           `mapstructure:"simulation"`
	WalkForward walkforward.Config        `mapstructure:"walkforward"`
	Evolution   optimize.Config           `mapstructure:"evolution"`
	Data        DataConfig                `mapstructure:"data"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Server      ServerConfig              `mapstructure:"server"`
	LLM         LLMConfig                 `mapstructure:"llm"`
	Notifiers   map[string]NotifierConfig `mapstructure:"notifiers"`
	Alerts      []alert.Rule              `mapstructure:"alerts"`
	Metrics     MetricsConfig             `mapstructure:"metrics"`
}

// RunConfig names the default run target. CLI flags override every field.
type RunConfig struct {
	Strategy  string         `mapstructure:"strategy"`
	Params    map[string]any `mapstructure:"params"`
	Symbols   []string       `mapstructure:"symbols"`
	Timeframe string         `mapstructure:"timeframe"`
	// Start and End are dates in 2006-01-02 form.
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// DataConfig locates bar files and configures history collectors. Dir
// is the root of the per-symbol bar tree (parquet preferred, CSV
// fallback).
type DataConfig struct {
	Dir        string                     `mapstructure:"dir"`
	Collectors map[string]CollectorConfig `mapstructure:"collectors"`
}

// CollectorConfig holds per-collector settings, keyed by collector name.
type CollectorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds the results store and artifact archive settings.
type StorageConfig struct {
	Results ResultsConfig `mapstructure:"results"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ResultsConfig selects the run store backend.
type ResultsConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" or "memory"
	Path    string `mapstructure:"path"`    // sqlite database file
	MaxRuns int    `mapstructure:"max_runs"`
}

// ArchiveConfig selects the artifact archive backend.
type ArchiveConfig struct {
	Backend string           `mapstructure:"backend"` // "localfs" or "s3"
	Path    string           `mapstructure:"path"`    // localfs root
	S3      archive.S3Config `mapstructure:"s3"`
}

// ServerConfig holds serve-mode settings.
type ServerConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	APIKey  string        `mapstructure:"api_key"`
	JobTTL  time.Duration `mapstructure:"job_ttl"`
	MaxJobs int           `mapstructure:"max_jobs"`
}

// LLMConfig holds research-note settings. Notes are generated only when
// Enabled is set and a provider is configured.
type LLMConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Provider    string       `mapstructure:"provider"`
	MaxTokens   int          `mapstructure:"max_tokens"`
	Temperature float64      `mapstructure:"temperature"`
	Claude      ClaudeConfig `mapstructure:"claude"`
	OpenAI      OpenAIConfig `mapstructure:"openai"`
	Ollama      OllamaConfig `mapstructure:"ollama"`
}

type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// NotifierConfig holds per-notifier settings, keyed by notifier name.
type NotifierConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// MetricsConfig holds metrics exposure settings for serve mode.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from path and overlays it on Defaults. An
// empty path returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand ${VAR} references in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	// Unmarshal over the defaults so absent keys keep their documented
	// values.
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the documented default configuration: a next-open
// fill model with 5 bps slippage and 10 bps commission on 100k starting
// cash, a yearly-train quarterly-test walk-forward schedule, and the
// standard evolutionary search settings (population 40, 30 generations,
// seed 42).
func Defaults() *Config {
	return &Config{
		Run: RunConfig{
			Timeframe: "1d",
		},
		Simulation:  backtest.DefaultConfig(),
		WalkForward: walkforward.DefaultConfig(),
		Evolution:   optimize.DefaultConfig(),
		Data: DataConfig{
			Dir: "data",
		},
		Storage: StorageConfig{
			Results: ResultsConfig{
				Backend: "sqlite",
				Path:    "crucible.db",
				MaxRuns: 1000,
			},
			Archive: ArchiveConfig{
				Backend: "localfs",
				Path:    "artifacts",
			},
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			JobTTL:  time.Hour,
			MaxJobs: 100,
		},
		LLM: LLMConfig{
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("simulation: %w", err))
	}
	if err := c.WalkForward.Validate(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("walkforward: %w", err))
	}
	if err := c.Evolution.Validate(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("evolution: %w", err))
	}

	switch c.Storage.Results.Backend {
	case "sqlite", "memory":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("storage.results.backend must be sqlite or memory, got %q", c.Storage.Results.Backend))
	}
	if c.Storage.Results.Backend == "sqlite" && c.Storage.Results.Path == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("storage.results.path required for the sqlite backend"))
	}

	switch c.Storage.Archive.Backend {
	case "localfs", "s3":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("storage.archive.backend must be localfs or s3, got %q", c.Storage.Archive.Backend))
	}
	if c.Storage.Archive.Backend == "s3" && c.Storage.Archive.S3.Bucket == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("storage.archive.s3.bucket required for the s3 backend"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxJobs < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server.max_jobs must be positive, got %d", c.Server.MaxJobs))
	}

	if c.LLM.Enabled {
		switch c.LLM.Provider {
		case "claude":
			if c.LLM.Claude.APIKey == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("llm.claude.api_key required when provider is claude"))
			}
		case "openai":
			if c.LLM.OpenAI.APIKey == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("llm.openai.api_key required when provider is openai"))
			}
		case "ollama":
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("llm.provider must be claude, openai or ollama, got %q", c.LLM.Provider))
		}
	}

	for name, n := range c.Notifiers {
		if n.Enabled && n.URL == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("notifiers.%s.url required when enabled", name))
		}
	}

	for i, r := range c.Alerts {
		if err := r.Validate(); err != nil {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alerts[%d]: %w", i, err))
		}
	}

	return nil
}
