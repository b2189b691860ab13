package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// FileStore implements Store on the local filesystem.
type FileStore struct {
	baseDir string
	logger  zerolog.Logger
}

// FileStoreConfig holds filesystem store configuration.
type FileStoreConfig struct {
	// BaseDir is the root directory under which scope documents live.
	BaseDir string

	// Logger is the parent logger; the store derives a component logger.
	Logger zerolog.Logger
}

// NewFileStore creates a filesystem-backed store rooted at cfg.BaseDir.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("state base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state base directory: %w", err)
	}
	return &FileStore{
		baseDir: cfg.BaseDir,
		logger:  cfg.Logger.With().Str("component", "state-store").Logger(),
	}, nil
}

// BaseDir returns the root directory of the store.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// documentPath maps a scope path to its document location on disk.
func (s *FileStore) documentPath(path string) (string, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	parts := append([]string{s.baseDir}, segments...)
	parts = append(parts, DocumentFile)
	return filepath.Join(parts...), nil
}

// Read loads the document for a path.
func (s *FileStore) Read(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.documentPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scope document: %w", err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, file, err)
	}
	if doc.Resources == nil {
		doc.Resources = make(map[string]ResourceRecord)
	}
	return doc, nil
}

// Write atomically replaces the document for a path. The document is written
// to a temp file in the target directory and renamed into place.
func (s *FileStore) Write(ctx context.Context, path string, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.documentPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scope directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scope document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp document: %w", err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace scope document: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Scope document written")
	return nil
}

// Exists reports whether a document exists for a path.
func (s *FileStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	file, err := s.documentPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(file)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat scope document: %w", err)
	}
	return true, nil
}

// Delete removes the document for a path and prunes empty directories up to
// the base directory, best effort.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.documentPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete scope document: %w", err)
	}

	// Prune now-empty scope directories. Stops at the first non-empty
	// directory or at the base.
	dir := filepath.Dir(file)
	for dir != s.baseDir {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	s.logger.Debug().Str("path", path).Msg("Scope document deleted")
	return nil
}

// ListStages returns the stage names under an application.
func (s *FileStore) ListStages(ctx context.Context, app string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSegment(app); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, app))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list stages for %s: %w", app, err)
	}

	var stages []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		doc := filepath.Join(s.baseDir, app, entry.Name(), DocumentFile)
		if _, err := os.Stat(doc); err == nil {
			stages = append(stages, entry.Name())
		}
	}
	sort.Strings(stages)
	return stages, nil
}

// ListApps returns the application names that have at least one stage.
func (s *FileStore) ListApps(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	var apps []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stages, err := s.ListStages(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		if len(stages) > 0 {
			apps = append(apps, entry.Name())
		}
	}
	sort.Strings(apps)
	return apps, nil
}
