package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/logger"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - deterministic backtesting and strategy validation",
	Long: `Crucible runs trading strategies against stored history with strict
no-lookahead alignment, validates them with walk-forward analysis, and
searches parameter spaces with a seeded evolutionary optimizer.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// loadConfig resolves the --config flag into a validated config,
// falling back to defaults when no file is given.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		log.Warn("no config file specified, using defaults")
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// withApp assembles the platform for one command invocation and tears
// it down afterwards.
func withApp(fn func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("assembling platform: %w", err)
	}
	defer a.Close()

	return fn(context.Background(), a, cfg, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
