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

var walkforwardFlags runFlags

var walkforwardCmd = &cobra.Command{
	Use:   "walkforward [strategy]",
	Short: "Validate a strategy with walk-forward analysis",
	Long: `Split the date range into rolling train/test windows, optimize on each
train segment and replay the winner out-of-sample. Prints the per-window
table, the stitched out-of-sample aggregate and any overfitting flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWalkForward,
}

func init() {
	walkforwardFlags.register(walkforwardCmd, true)
	rootCmd.AddCommand(walkforwardCmd)
}

func runWalkForward(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error {
		spec, err := walkforwardFlags.spec(cmd, args, cfg)
		if err != nil {
			return err
		}
		rep, err := a.RunWalkForward(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Print(report.WalkForwardSummary(rep))
		return nil
	})
}
