package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ConfigFile is the config file name under the home directory
	ConfigFile = ".ide3-config.json"
	// TrustFile holds the trusted directory list
	TrustFile = ".ide3-trusted-dirs.json"
	// StateDir holds logs and the history database
	StateDir = ".ide3"
)

// FileSystem abstracts file operations for testability
type FileSystem interface {
	UserHomeDir() (string, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Getenv(key string) string
}

// OSFileSystem implements FileSystem using the real OS
type OSFileSystem struct{}

func (OSFileSystem) UserHomeDir() (string, error) { return os.UserHomeDir() }

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OSFileSystem) Getenv(key string) string { return os.Getenv(key) }

// Loader handles configuration loading with injected dependencies
type Loader struct {
	fs     FileSystem
	path   string
	logger *slog.Logger
}

// NewLoader creates a production Loader. An empty path means ~/.ide3-config.json.
func NewLoader(path string, logger *slog.Logger) *Loader {
	return NewLoaderWithFS(OSFileSystem{}, path, logger)
}

// NewLoaderWithFS creates a Loader with a custom filesystem (for testing)
func NewLoaderWithFS(fs FileSystem, path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fs: fs, path: path, logger: logger}
}

// Path returns the resolved config file path.
func (l *Loader) Path() (string, error) {
	if l.path != "" {
		return l.path, nil
	}
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ConfigFile), nil
}

// Load reads the config file and merges it over the defaults.
// A missing or unparsable file yields the defaults; the config is never fatal.
// Environment variables fill credentials and hosts the file leaves empty.
// The result is for running only: persist changes through SetMode or
// LoadFile and Save so environment values never reach the file.
func (l *Loader) Load() *Config {
	cfg := l.LoadFile()
	l.applyEnv(cfg)
	return cfg
}

// LoadFile returns the defaults overlaid with the config file alone, without
// environment values or derived paths.
func (l *Loader) LoadFile() *Config {
	cfg := Default()

	path, err := l.Path()
	if err != nil {
		l.logger.Warn("using default config", "error", err)
		return cfg
	}

	data, err := l.fs.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.logger.Info("no config file, using defaults", "path", path)
	case err != nil:
		l.logger.Warn("failed to read config, using defaults", "path", path, "error", err)
	default:
		// Unmarshal into a copy so a half-parsed document cannot leak partial values.
		parsed := *cfg
		if err := json.Unmarshal(data, &parsed); err != nil {
			l.logger.Warn("failed to parse config, using defaults", "path", path, "error", err)
		} else {
			cfg = &parsed
		}
	}

	cfg.normalize()
	return cfg
}

// Save writes cfg to the config file.
func (l *Loader) Save(cfg *Config) error {
	path, err := l.Path()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := l.fs.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	l.logger.Info("config saved", "path", path, "mode", cfg.Mode)
	return nil
}

// SetMode rewrites the mode in the config file, leaving its other keys as
// the file has them.
func (l *Loader) SetMode(mode string) error {
	cfg := l.LoadFile()
	cfg.Mode = mode
	return l.Save(cfg)
}

// StatePath joins name onto ~/.ide3, falling back to the working directory.
func (l *Loader) StatePath(name string) string {
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return filepath.Join(StateDir, name)
	}
	return filepath.Join(home, StateDir, name)
}

// TrustPath returns the location of the trusted directory list.
func (l *Loader) TrustPath() string {
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return TrustFile
	}
	return filepath.Join(home, TrustFile)
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.fs.Getenv("OLLAMA_HOST"); v != "" && cfg.OllamaHost == DefaultOllamaHost {
		cfg.OllamaHost = v
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = l.fs.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = l.fs.Getenv("OPENAI_API_KEY")
	}
	if cfg.HistorySink == SinkNone {
		url, key := l.fs.Getenv("VITE_SUPABASE_URL"), l.fs.Getenv("VITE_SUPABASE_ANON_KEY")
		if url != "" && key != "" {
			cfg.HistorySink = SinkREST
			cfg.HistoryURL = url
			cfg.HistoryKey = key
		}
	}
	if cfg.HistorySink == SinkSQLite && cfg.HistoryDB == "" {
		cfg.HistoryDB = l.StatePath("history.db")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = l.StatePath("logs")
	}
}
