package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/core"
)

// runFlags are the flags shared by backtest, walkforward and evolve.
// Every flag overlays the config file's run section; the strategy can
// also be given as the positional argument.
type runFlags struct {
	symbols   []string
	timeframe string
	from      string
	to        string
	params    string
	seed      int64
}

func (f *runFlags) register(cmd *cobra.Command, withSeed bool) {
	cmd.Flags().StringSliceVar(&f.symbols, "symbols", nil, "universe symbols (comma separated)")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "", "bar timeframe (1m 5m 15m 1h 4h 1d 1wk)")
	cmd.Flags().StringVar(&f.from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.params, "params", "", `strategy params as JSON, e.g. '{"fast":10,"slow":30}'`)
	if withSeed {
		cmd.Flags().Int64Var(&f.seed, "seed", 0, "search seed (overrides config)")
	}
}

// spec resolves the config run section and overlays the command line.
func (f *runFlags) spec(cmd *cobra.Command, args []string, cfg *config.Config) (app.RunSpec, error) {
	spec, err := app.SpecFromRun(cfg.Run)
	if err != nil {
		return app.RunSpec{}, err
	}
	if len(args) > 0 {
		spec.Strategy = args[0]
	}
	if len(f.symbols) > 0 {
		spec.Symbols = f.symbols
	}
	if f.timeframe != "" {
		spec.Timeframe = core.Timeframe(f.timeframe)
	}
	if f.from != "" {
		if spec.Start, err = time.Parse("2006-01-02", f.from); err != nil {
			return app.RunSpec{}, fmt.Errorf("invalid --from (expected YYYY-MM-DD): %w", err)
		}
	}
	if f.to != "" {
		if spec.End, err = time.Parse("2006-01-02", f.to); err != nil {
			return app.RunSpec{}, fmt.Errorf("invalid --to (expected YYYY-MM-DD): %w", err)
		}
	}
	if f.params != "" {
		overlay := map[string]any{}
		if err := json.Unmarshal([]byte(f.params), &overlay); err != nil {
			return app.RunSpec{}, fmt.Errorf("invalid --params JSON: %w", err)
		}
		merged := make(map[string]any, len(spec.Params)+len(overlay))
		for k, v := range spec.Params {
			merged[k] = v
		}
		for k, v := range overlay {
			merged[k] = v
		}
		spec.Params = merged
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		spec.Seed = &seed
	}
	return spec, spec.Validate()
}
