package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists the set of trusted directories.
type Store interface {
	Load() ([]string, error)
	Save(dirs []string) error
}

// FileStore keeps the trusted set as a JSON array of absolute paths.
type FileStore struct {
	Path   string
	Logger *slog.Logger
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{Path: path, Logger: logger}
}

// Load returns the stored directories. A missing or unreadable file is an
// empty set, never an error.
func (s *FileStore) Load() ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.Logger.Warn("Could not read trusted directories", "path", s.Path, "error", err)
		}
		return nil, nil
	}
	var dirs []string
	if err := json.Unmarshal(data, &dirs); err != nil {
		s.Logger.Warn("Ignoring malformed trusted directories file", "path", s.Path, "error", err)
		return nil, nil
	}
	return dirs, nil
}

// Save rewrites the file with dirs.
func (s *FileStore) Save(dirs []string) error {
	if dirs == nil {
		dirs = []string{}
	}
	data, err := json.MarshalIndent(dirs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(s.Path), err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save trusted directories: %w", err)
	}
	return nil
}
