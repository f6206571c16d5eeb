// Package report renders completed runs into their artifacts: a result
// JSON document with full reproducibility metadata, NAV and trade CSVs,
// and the text summary the CLI prints. All artifacts are written
// through the archive under the run's key prefix.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/storage/archive"
	"github.com/openquant/crucible/internal/walkforward"
)

// EvolutionReport pairs a parameter search with its winner replayed as
// a full run. Winner is nil when the replay was skipped.
type EvolutionReport struct {
	RunID      string           `json:"run_id"`
	Strategy   string           `json:"strategy"`
	Symbols    []string         `json:"symbols"`
	Timeframe  core.Timeframe   `json:"timeframe"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Search     optimize.Result  `json:"search"`
	Winner     *backtest.Result `json:"winner,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Writer renders runs into archived artifacts.
type Writer struct {
	archive *archive.Archive
	logger  *zap.Logger
}

// NewWriter creates a report writer on top of an artifact archive.
func NewWriter(a *archive.Archive, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{archive: a, logger: logger}
}

// WriteBacktest archives a backtest's result JSON, NAV and trade CSVs,
// and text summary.
func (w *Writer) WriteBacktest(ctx context.Context, res *backtest.Result) error {
	doc, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	navCSV, err := renderNAVCSV(res.NAV)
	if err != nil {
		return fmt.Errorf("rendering nav csv: %w", err)
	}
	tradesCSV, err := renderTradesCSV(res.Trades)
	if err != nil {
		return fmt.Errorf("rendering trades csv: %w", err)
	}

	return w.writeAll(ctx, res.RunID, map[string][]byte{
		archive.ArtifactResult: doc,
		archive.ArtifactNAV:    navCSV,
		archive.ArtifactTrades: tradesCSV,
		archive.ArtifactReport: []byte(BacktestSummary(res)),
	})
}

// WriteWalkForward archives a validation report. The CSVs stitch the
// out-of-sample segments together, tagged with their window index, so
// the equity curve of the whole validation reads as one series.
func (w *Writer) WriteWalkForward(ctx context.Context, rep *walkforward.Report) error {
	doc, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	navCSV, err := renderWindowNAVCSV(rep.Windows)
	if err != nil {
		return fmt.Errorf("rendering nav csv: %w", err)
	}
	tradesCSV, err := renderWindowTradesCSV(rep.Windows)
	if err != nil {
		return fmt.Errorf("rendering trades csv: %w", err)
	}

	return w.writeAll(ctx, rep.RunID, map[string][]byte{
		archive.ArtifactResult: doc,
		archive.ArtifactNAV:    navCSV,
		archive.ArtifactTrades: tradesCSV,
		archive.ArtifactReport: []byte(WalkForwardSummary(rep)),
	})
}

// WriteEvolution archives a search report; NAV and trade CSVs come
// from the winner's replay when present.
func (w *Writer) WriteEvolution(ctx context.Context, rep *EvolutionReport) error {
	doc, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	artifacts := map[string][]byte{
		archive.ArtifactResult: doc,
		archive.ArtifactReport: []byte(EvolutionSummary(rep)),
	}
	if rep.Winner != nil {
		navCSV, err := renderNAVCSV(rep.Winner.NAV)
		if err != nil {
			return fmt.Errorf("rendering nav csv: %w", err)
		}
		tradesCSV, err := renderTradesCSV(rep.Winner.Trades)
		if err != nil {
			return fmt.Errorf("rendering trades csv: %w", err)
		}
		artifacts[archive.ArtifactNAV] = navCSV
		artifacts[archive.ArtifactTrades] = tradesCSV
	}

	return w.writeAll(ctx, rep.RunID, artifacts)
}

// WriteNotes attaches a research note to an already written run.
func (w *Writer) WriteNotes(ctx context.Context, runID, notes string) error {
	return w.archive.WriteArtifact(ctx, runID, archive.ArtifactNotes, []byte(notes))
}

func (w *Writer) writeAll(ctx context.Context, runID string, artifacts map[string][]byte) error {
	for _, name := range []string{
		archive.ArtifactResult, archive.ArtifactNAV,
		archive.ArtifactTrades, archive.ArtifactReport,
	} {
		data, ok := artifacts[name]
		if !ok {
			continue
		}
		if err := w.archive.WriteArtifact(ctx, runID, name, data); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	w.logger.Info("artifacts written",
		zap.String("run_id", runID),
		zap.Int("artifacts", len(artifacts)))
	return nil
}
