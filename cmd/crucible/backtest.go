package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/report"
)

var backtestFlags runFlags

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy]",
	Short: "Run one deterministic backtest",
	Long: `Run a strategy over stored history and print its performance report.
The run is persisted to the results store and archived, so identical
inputs can be verified to produce identical outputs later.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBacktest,
}

func init() {
	backtestFlags.register(backtestCmd, false)
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error {
		spec, err := backtestFlags.spec(cmd, args, cfg)
		if err != nil {
			return err
		}
		res, err := a.RunBacktest(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Print(report.BacktestSummary(res))
		return nil
	})
}
