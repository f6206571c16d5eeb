package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openquant/crucible/internal/alert"
)

func TestLoad_FromFile(t *testing.T) {
	content := []byte(`
run:
  strategy: macross
  symbols: ["AAPL", "MSFT"]
  start: "2015-01-01"
  end: "2024-01-01"

simulation:
  initial_cash: 250000
  slippage_bps: 2

storage:
  results:
    backend: sqlite
    path: "/tmp/crucible/runs.db"
  archive:
    backend: localfs
    path: "/tmp/crucible/artifacts"

server:
  port: 9090
  job_ttl: 30m
`)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Run.Strategy != "macross" {
		t.Errorf("expected strategy macross, got %s", cfg.Run.Strategy)
	}
	if len(cfg.Run.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %d", len(cfg.Run.Symbols))
	}
	if cfg.Simulation.InitialCash != 250000 {
		t.Errorf("expected initial cash 250000, got %f", cfg.Simulation.InitialCash)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.JobTTL != 30*time.Minute {
		t.Errorf("expected job ttl 30m, got %v", cfg.Server.JobTTL)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Simulation.CommissionBps != 10 {
		t.Errorf("expected default commission 10 bps, got %f", cfg.Simulation.CommissionBps)
	}
	if cfg.Evolution.Population != 40 {
		t.Errorf("expected default population 40, got %d", cfg.Evolution.Population)
	}
	if cfg.Run.Timeframe != "1d" {
		t.Errorf("expected default timeframe 1d, got %s", cfg.Run.Timeframe)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Simulation.InitialCash != 100_000 {
		t.Errorf("expected default initial cash, got %f", cfg.Simulation.InitialCash)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CRUCIBLE_TEST_BUCKET", "research-artifacts")

	content := []byte(`
storage:
  archive:
    backend: s3
    s3:
      bucket: ${CRUCIBLE_TEST_BUCKET}
      region: us-east-1
`)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Archive.S3.Bucket != "research-artifacts" {
		t.Errorf("expected expanded bucket, got %q", cfg.Storage.Archive.S3.Bucket)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Simulation.InitialCash != 100_000 {
		t.Errorf("expected default initial cash 100000, got %f", cfg.Simulation.InitialCash)
	}
	if cfg.Simulation.SlippageBps != 5 {
		t.Errorf("expected default slippage 5 bps, got %f", cfg.Simulation.SlippageBps)
	}
	if cfg.Evolution.Seed != 42 {
		t.Errorf("expected default seed 42, got %d", cfg.Evolution.Seed)
	}
	if cfg.WalkForward.TestSpan != 90*24*time.Hour {
		t.Errorf("expected default test span 90d, got %v", cfg.WalkForward.TestSpan)
	}
	if cfg.Storage.Results.Backend != "sqlite" {
		t.Errorf("expected default sqlite backend, got %s", cfg.Storage.Results.Backend)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return Defaults() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "negative initial cash",
			mutate:  func(c *Config) { c.Simulation.InitialCash = -1 },
			wantErr: true,
		},
		{
			name:    "step below test span",
			mutate:  func(c *Config) { c.WalkForward.Step = c.WalkForward.TestSpan / 2 },
			wantErr: true,
		},
		{
			name:    "zero population",
			mutate:  func(c *Config) { c.Evolution.Population = 0 },
			wantErr: true,
		},
		{
			name:    "unknown results backend",
			mutate:  func(c *Config) { c.Storage.Results.Backend = "postgres" },
			wantErr: true,
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Storage.Results.Backend = "sqlite"
				c.Storage.Results.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown archive backend",
			mutate:  func(c *Config) { c.Storage.Archive.Backend = "gcs" },
			wantErr: true,
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Archive.Backend = "s3" },
			wantErr: true,
		},
		{
			name:    "invalid port - zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name: "llm enabled without claude key",
			mutate: func(c *Config) {
				c.LLM.Enabled = true
				c.LLM.Provider = "claude"
			},
			wantErr: true,
		},
		{
			name: "llm enabled with unknown provider",
			mutate: func(c *Config) {
				c.LLM.Enabled = true
				c.LLM.Provider = "bard"
			},
			wantErr: true,
		},
		{
			name: "llm ollama needs no key",
			mutate: func(c *Config) {
				c.LLM.Enabled = true
				c.LLM.Provider = "ollama"
			},
			wantErr: false,
		},
		{
			name: "llm disabled skips provider checks",
			mutate: func(c *Config) {
				c.LLM.Enabled = false
				c.LLM.Provider = "claude"
			},
			wantErr: false,
		},
		{
			name: "enabled notifier without url",
			mutate: func(c *Config) {
				c.Notifiers = map[string]NotifierConfig{
					"webhook": {Enabled: true},
				}
			},
			wantErr: true,
		},
		{
			name: "valid alert rule",
			mutate: func(c *Config) {
				c.Alerts = []alert.Rule{{Name: "low-sharpe", Expr: "sharpe < 0.5"}}
			},
			wantErr: false,
		},
		{
			name: "alert rule with unparseable expr",
			mutate: func(c *Config) {
				c.Alerts = []alert.Rule{{Name: "bad", Expr: "sharpe below 0.5"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
