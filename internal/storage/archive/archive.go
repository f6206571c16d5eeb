// Package archive stores run artifacts (result JSON, NAV and trade
// CSVs, report text) as blobs keyed runs/<run_id>/<artifact>, on the
// local filesystem or any S3-compatible backend.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Well-known artifact names under a run's key prefix.
const (
	ArtifactResult = "result.json"
	ArtifactNAV    = "nav.csv"
	ArtifactTrades = "trades.csv"
	ArtifactReport = "report.txt"
	ArtifactNotes  = "notes.md"
)

// Storage is a flat blob backend. Paths use forward slashes on every
// backend.
type Storage interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// RunKey returns the storage path of one artifact of one run.
func RunKey(runID, artifact string) string {
	return path.Join("runs", runID, artifact)
}

// Archive scopes a Storage backend to per-run artifact keys.
type Archive struct {
	store Storage
}

// NewArchive wraps a storage backend.
func NewArchive(store Storage) *Archive {
	return &Archive{store: store}
}

// WriteArtifact stores one artifact for a run.
func (a *Archive) WriteArtifact(ctx context.Context, runID, artifact string, data []byte) error {
	if runID == "" || artifact == "" {
		return fmt.Errorf("run id and artifact name must be non-empty")
	}
	return a.store.Write(ctx, RunKey(runID, artifact), data)
}

// ReadArtifact retrieves one artifact of a run.
func (a *Archive) ReadArtifact(ctx context.Context, runID, artifact string) ([]byte, error) {
	return a.store.Read(ctx, RunKey(runID, artifact))
}

// HasArtifact reports whether a run has the named artifact.
func (a *Archive) HasArtifact(ctx context.Context, runID, artifact string) (bool, error) {
	return a.store.Exists(ctx, RunKey(runID, artifact))
}

// ListRun returns the artifact names stored for a run, in backend
// listing order (lexical on both backends).
func (a *Archive) ListRun(ctx context.Context, runID string) ([]string, error) {
	prefix := path.Join("runs", runID)
	paths, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimPrefix(p, prefix+"/"))
	}
	return names, nil
}

// DeleteRun removes every artifact stored for a run.
func (a *Archive) DeleteRun(ctx context.Context, runID string) error {
	prefix := path.Join("runs", runID)
	paths, err := a.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := a.store.Delete(ctx, p); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
	}
	return nil
}
