package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/recall/internal/storage"
)

// SourceStore registers sources.
type SourceStore interface {
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	FindSourceByPath(ctx context.Context, path string) (*storage.Source, error)
}

// SourceType guesses whether path names a git repository or a local
// directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") ||
		strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") ||
		strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "ssh://") {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// AddSource registers a source. Local paths must be existing directories
// and are stored as absolute paths. Adding a known source returns it.
func AddSource(ctx context.Context, store SourceStore, path string) (*storage.Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("source path cannot be empty")
	}
	sourceType := SourceType(path)
	if sourceType == storage.SourceLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("source %s is not a directory", abs)
		}
		path = abs
	}

	existing, err := store.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	id, err := store.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}
