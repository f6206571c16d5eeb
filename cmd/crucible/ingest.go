package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/core"
)

var (
	ingestSource    string
	ingestTimeframe string
	ingestFrom      string
	ingestTo        string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest SYMBOL...",
	Short: "Fetch history into the data directory",
	Long: `Fetch OHLCV history for the given symbols through a registered
collector and write it into the data directory. Backtests only ever
read from that directory, so ingest is the one command that talks to
the outside world.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "yahoo", "collector to fetch from")
	ingestCmd.Flags().StringVar(&ingestTimeframe, "timeframe", "1d", "bar timeframe (1m 5m 15m 1h 4h 1d 1wk)")
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "start date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "end date (YYYY-MM-DD), defaults to today")
	ingestCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error {
		start, err := time.Parse("2006-01-02", ingestFrom)
		if err != nil {
			return fmt.Errorf("invalid --from (expected YYYY-MM-DD): %w", err)
		}
		end := time.Now().UTC()
		if ingestTo != "" {
			if end, err = time.Parse("2006-01-02", ingestTo); err != nil {
				return fmt.Errorf("invalid --to (expected YYYY-MM-DD): %w", err)
			}
		}

		bars, err := a.Ingest(ctx, ingestSource, args, core.Timeframe(ingestTimeframe), start, end)
		if err != nil {
			return err
		}
		fmt.Printf("ingested %d bars for %d symbol(s) into %s\n", bars, len(args), cfg.Data.Dir)
		return nil
	})
}
