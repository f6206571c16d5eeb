package report

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/walkforward"
)

const dateFormat = "2006-01-02"

// BacktestSummary renders the text report for one run.
func BacktestSummary(res *backtest.Result) string {
	var b strings.Builder
	b.WriteString("=== Crucible Backtest ===\n")
	fmt.Fprintf(&b, "Run:       %s\n", res.RunID)
	fmt.Fprintf(&b, "Strategy:  %s\n", res.Strategy)
	fmt.Fprintf(&b, "Universe:  %s\n", strings.Join(res.Universe, ", "))
	fmt.Fprintf(&b, "Timeframe: %s\n", res.Timeframe)
	fmt.Fprintf(&b, "Period:    %s to %s\n", res.Start.Format(dateFormat), res.End.Format(dateFormat))
	if res.State != backtest.StateCompleted {
		fmt.Fprintf(&b, "State:     %s\n", res.State)
		if res.Error != "" {
			fmt.Fprintf(&b, "Error:     %s\n", res.Error)
		}
	}
	b.WriteString("\n")
	writeStats(&b, res.Stats, res.FinalNAV())
	if len(res.Diagnostics) > 0 {
		fmt.Fprintf(&b, "\nDiagnostics: %d (full list in result.json)\n", len(res.Diagnostics))
	}
	return b.String()
}

// WalkForwardSummary renders the text report for a validation: the
// per-window table, the aggregate block, and every flag.
func WalkForwardSummary(rep *walkforward.Report) string {
	var b strings.Builder
	b.WriteString("=== Crucible Walk-Forward ===\n")
	fmt.Fprintf(&b, "Run:       %s\n", rep.RunID)
	fmt.Fprintf(&b, "Strategy:  %s\n", rep.Strategy)
	fmt.Fprintf(&b, "Universe:  %s\n", strings.Join(rep.Symbols, ", "))
	fmt.Fprintf(&b, "Timeframe: %s\n", rep.Timeframe)
	fmt.Fprintf(&b, "Period:    %s to %s\n", rep.Start.Format(dateFormat), rep.End.Format(dateFormat))
	fmt.Fprintf(&b, "Seed:      %d\n", rep.Seed)
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WIN\tTRAIN\tTEST\tFITNESS\tIS CAGR\tOOS CAGR\tOOS RET\t")
	fmt.Fprintln(tw, "---\t-----\t----\t-------\t-------\t--------\t-------\t")
	for _, w := range rep.Windows {
		oos := backtest.Stats{}
		if w.Test != nil {
			oos = w.Test.Stats
		}
		fmt.Fprintf(tw, "%d\t%s..%s\t%s..%s\t%.4f\t%.2f%%\t%.2f%%\t%.2f%%\t\n",
			w.Window.Index,
			w.Window.TrainStart.Format(dateFormat), w.Window.TrainEnd.Format(dateFormat),
			w.Window.TestStart.Format(dateFormat), w.Window.TestEnd.Format(dateFormat),
			w.BestFitness, w.TrainStats.CAGR*100, oos.CAGR*100, oos.TotalReturn*100)
	}
	tw.Flush()
	b.WriteString("\n")

	agg := rep.Aggregate
	fmt.Fprintf(&b, "Windows:        %d\n", agg.Windows)
	fmt.Fprintf(&b, "Mean IS CAGR:   %.2f%%\n", agg.MeanISCAGR*100)
	fmt.Fprintf(&b, "Mean OOS CAGR:  %.2f%%\n", agg.MeanOOSCAGR*100)
	fmt.Fprintf(&b, "OOS CAGR std:   %.4f\n", agg.StdOOSCAGR)
	fmt.Fprintf(&b, "Degradation:    %.4f\n", agg.Degradation)
	fmt.Fprintf(&b, "Negative OOS:   %d\n", agg.NegativeOOS)
	if len(agg.ParamCV) > 0 {
		b.WriteString("Parameter CV:\n")
		names := make([]string, 0, len(agg.ParamCV))
		for name := range agg.ParamCV {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-14s %.4f\n", name, agg.ParamCV[name])
		}
	}
	b.WriteString("\n")

	if len(rep.Flags) == 0 {
		b.WriteString("No overfit flags.\n")
		return b.String()
	}
	b.WriteString("Flags:\n")
	for _, f := range rep.Flags {
		if f.Window >= 0 {
			fmt.Fprintf(&b, "  - [window %d] %s\n", f.Window, f.Reason)
		} else {
			fmt.Fprintf(&b, "  - %s\n", f.Reason)
		}
	}
	return b.String()
}

// EvolutionSummary renders the text report for a parameter search and
// its winner.
func EvolutionSummary(rep *EvolutionReport) string {
	var b strings.Builder
	b.WriteString("=== Crucible Evolution ===\n")
	fmt.Fprintf(&b, "Run:         %s\n", rep.RunID)
	fmt.Fprintf(&b, "Strategy:    %s\n", rep.Strategy)
	fmt.Fprintf(&b, "Universe:    %s\n", strings.Join(rep.Symbols, ", "))
	fmt.Fprintf(&b, "Timeframe:   %s\n", rep.Timeframe)
	fmt.Fprintf(&b, "Period:      %s to %s\n", rep.Start.Format(dateFormat), rep.End.Format(dateFormat))
	fmt.Fprintf(&b, "Seed:        %d\n", rep.Search.Seed)
	fmt.Fprintf(&b, "Generations: %d\n", len(rep.Search.Generations))
	fmt.Fprintf(&b, "Evaluations: %d\n", rep.Search.Evaluations)
	fmt.Fprintf(&b, "Elapsed:     %s\n", rep.Search.Elapsed.Round(time.Millisecond))
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GEN\tBEST\tMEAN\tWORST\tFAILED\t")
	fmt.Fprintln(tw, "---\t----\t----\t-----\t------\t")
	for _, g := range rep.Search.Generations {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%d\t\n", g.Index, g.Best, g.Mean, g.Worst, g.Failures)
	}
	tw.Flush()
	b.WriteString("\n")

	fmt.Fprintf(&b, "Best fitness: %.4f\n", rep.Search.Best.Fitness)
	b.WriteString("Best parameters:\n")
	for _, name := range sortedParamNames(rep.Search.Best.Params) {
		fmt.Fprintf(&b, "  %-14s %v\n", name, rep.Search.Best.Params[name])
	}

	if rep.Winner != nil {
		b.WriteString("\n")
		writeStats(&b, rep.Winner.Stats, rep.Winner.FinalNAV())
	}
	return b.String()
}

func writeStats(b *strings.Builder, s backtest.Stats, finalNAV float64) {
	fmt.Fprintf(b, "Final NAV:     %.2f\n", finalNAV)
	fmt.Fprintf(b, "Total return:  %.2f%%\n", s.TotalReturn*100)
	fmt.Fprintf(b, "CAGR:          %.2f%%\n", s.CAGR*100)
	fmt.Fprintf(b, "Sharpe:        %.2f\n", s.Sharpe)
	fmt.Fprintf(b, "Max drawdown:  %.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(b, "Volatility:    %.2f%%\n", s.Volatility*100)
	fmt.Fprintf(b, "Win rate:      %.1f%% (%d won, %d lost)\n", s.WinRate*100, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(b, "Trades:        %d\n", s.TotalTrades)
	fmt.Fprintf(b, "Composite:     %.4f\n", s.Composite)
}

func sortedParamNames(ps optimize.ParameterSet) []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
