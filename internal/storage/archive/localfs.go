package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Storage = (*LocalFS)(nil)

// LocalFS stores blobs as files under a base directory.
type LocalFS struct {
	base string
}

// NewLocalFS creates the base directory if needed and returns a
// filesystem-backed storage.
func NewLocalFS(base string) (*LocalFS, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating base path: %w", err)
	}
	return &LocalFS{base: base}, nil
}

func (l *LocalFS) fullPath(p string) string {
	return filepath.Join(l.base, filepath.FromSlash(p))
}

func (l *LocalFS) Write(ctx context.Context, p string, data []byte) error {
	full := l.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

func (l *LocalFS) Read(ctx context.Context, p string) ([]byte, error) {
	return os.ReadFile(l.fullPath(p))
}

func (l *LocalFS) List(ctx context.Context, prefix string) ([]string, error) {
	paths := []string{}
	err := filepath.WalkDir(l.fullPath(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.base, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	return paths, err
}

func (l *LocalFS) Delete(ctx context.Context, p string) error {
	return os.Remove(l.fullPath(p))
}

func (l *LocalFS) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(l.fullPath(p))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
