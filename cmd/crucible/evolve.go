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

var evolveFlags runFlags

var evolveCmd = &cobra.Command{
	Use:   "evolve [strategy]",
	Short: "Search a strategy's parameter space",
	Long: `Run the seeded evolutionary optimizer over the strategy's parameter
space and replay the best individual on the full range. The same seed
and data always reproduce the same search.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvolve,
}

func init() {
	evolveFlags.register(evolveCmd, true)
	rootCmd.AddCommand(evolveCmd)
}

func runEvolve(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error {
		spec, err := evolveFlags.spec(cmd, args, cfg)
		if err != nil {
			return err
		}
		rep, err := a.RunEvolution(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Print(report.EvolutionSummary(rep))
		return nil
	})
}
