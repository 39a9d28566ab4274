package config

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFileSystem implements FileSystem for testing.
type MockFileSystem struct {
	HomeDir     string
	HomeDirErr  error
	Files       map[string][]byte
	ReadFileErr error
	Env         map[string]string
}

func (m *MockFileSystem) UserHomeDir() (string, error) {
	return m.HomeDir, m.HomeDirErr
}

func (m *MockFileSystem) ReadFile(path string) ([]byte, error) {
	if m.ReadFileErr != nil {
		return nil, m.ReadFileErr
	}
	data, ok := m.Files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MockFileSystem) WriteFile(path string, data []byte, _ os.FileMode) error {
	if m.Files == nil {
		m.Files = map[string][]byte{}
	}
	m.Files[path] = data
	return nil
}

func (m *MockFileSystem) Getenv(key string) string {
	return m.Env[key]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	fs := &MockFileSystem{HomeDir: "/home/user"}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, DefaultOllamaHost, cfg.OllamaHost)
	assert.Equal(t, BackendAnthropic, cfg.CloudProvider)
	assert.Equal(t, 60*time.Second, cfg.ExecTimeout())
	assert.Equal(t, 5*time.Minute, cfg.ToolCallTimeout())
	assert.Equal(t, "/home/user/.ide3/logs", cfg.LogDir)
	assert.Equal(t, SinkNone, cfg.HistorySink)
}

func TestLoad_LegacyFile_ModeAliasesNormalized(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files: map[string][]byte{
			"/home/user/.ide3-config.json": []byte(`{"mode":"claude","ollamaHost":"http://gpu:11434/","anthropicApiKey":"sk-1"}`),
		},
	}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, ModeCloud, cfg.Mode)
	assert.Equal(t, "http://gpu:11434", cfg.OllamaHost)
	assert.Equal(t, "sk-1", cfg.AnthropicAPIKey)
	assert.Equal(t, DefaultAnthropicModel, cfg.CloudModelName())
}

func TestLoad_MalformedJSON_FallsBackToDefaults(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files: map[string][]byte{
			"/home/user/.ide3-config.json": []byte(`{"mode": "hybrid",`),
		},
	}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, ModeLocal, cfg.Mode)
}

func TestLoad_ReadError_FallsBackToDefaults(t *testing.T) {
	fs := &MockFileSystem{HomeDir: "/home/user", ReadFileErr: errors.New("permission denied")}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, ModeLocal, cfg.Mode)
}

func TestLoad_UnknownMode_UsesDefault(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{"/cfg.json": []byte(`{"mode":"quantum"}`)},
	}
	cfg := NewLoaderWithFS(fs, "/cfg.json", quietLogger()).Load()

	assert.Equal(t, ModeLocal, cfg.Mode)
}

func TestLoad_EnvironmentFillsCredentials(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Env: map[string]string{
			"ANTHROPIC_API_KEY":      "sk-env",
			"OPENAI_API_KEY":         "oa-env",
			"OLLAMA_HOST":            "http://remote:11434",
			"VITE_SUPABASE_URL":      "https://x.supabase.co",
			"VITE_SUPABASE_ANON_KEY": "anon",
		},
	}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, "sk-env", cfg.AnthropicAPIKey)
	assert.Equal(t, "oa-env", cfg.OpenAIAPIKey)
	assert.Equal(t, "http://remote:11434", cfg.OllamaHost)
	assert.Equal(t, SinkREST, cfg.HistorySink)
	assert.Equal(t, "https://x.supabase.co", cfg.HistoryURL)
}

func TestLoad_FileCredentialWinsOverEnvironment(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files: map[string][]byte{
			"/home/user/.ide3-config.json": []byte(`{"anthropicApiKey":"sk-file","historySink":"SQLite"}`),
		},
		Env: map[string]string{"ANTHROPIC_API_KEY": "sk-env"},
	}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).Load()

	assert.Equal(t, "sk-file", cfg.AnthropicAPIKey)
	assert.Equal(t, SinkSQLite, cfg.HistorySink)
	assert.Equal(t, "/home/user/.ide3/history.db", cfg.HistoryDB)
}

func TestSave_RoundTrip(t *testing.T) {
	fs := &MockFileSystem{HomeDir: "/home/user"}
	loader := NewLoaderWithFS(fs, "", quietLogger())

	cfg := loader.Load()
	cfg.Mode = ModeHybrid
	cfg.ToolServers = []ToolServer{{Name: "local", Command: "python3 server.py"}}
	require.NoError(t, loader.Save(cfg))

	raw := fs.Files["/home/user/.ide3-config.json"]
	require.NotNil(t, raw)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "hybrid", doc["mode"])

	reloaded := loader.Load()
	assert.Equal(t, ModeHybrid, reloaded.Mode)
	assert.Equal(t, cfg.ToolServers, reloaded.ToolServers)
}

func TestSetMode_KeepsEnvironmentOutOfFile(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files: map[string][]byte{
			"/home/user/.ide3-config.json": []byte(`{"mode":"local","preferredModel":"vicuna:7b"}`),
		},
		Env: map[string]string{
			"ANTHROPIC_API_KEY":      "sk-ant-secret",
			"OPENAI_API_KEY":         "sk-openai-secret",
			"OLLAMA_HOST":            "http://gpu:11434",
			"VITE_SUPABASE_URL":      "https://db.example.com",
			"VITE_SUPABASE_ANON_KEY": "anon-secret",
		},
	}
	loader := NewLoaderWithFS(fs, "", quietLogger())

	running := loader.Load()
	require.Equal(t, "sk-ant-secret", running.AnthropicAPIKey)
	require.Equal(t, SinkREST, running.HistorySink)

	require.NoError(t, loader.SetMode(ModeCloud))

	raw := string(fs.Files["/home/user/.ide3-config.json"])
	for _, leaked := range []string{"sk-ant-secret", "sk-openai-secret", "anon-secret", "db.example.com", "gpu:11434", "historySink", "logDir"} {
		assert.NotContains(t, raw, leaked)
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "cloud", doc["mode"])
	assert.Equal(t, "vicuna:7b", doc["preferredModel"])

	// the environment still applies at load time
	assert.Equal(t, "sk-ant-secret", loader.Load().AnthropicAPIKey)
}

func TestLoadFile_SkipsEnvironmentAndDerivedPaths(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files: map[string][]byte{
			"/home/user/.ide3-config.json": []byte(`{"mode":"hybrid","historySink":"sqlite"}`),
		},
		Env: map[string]string{"ANTHROPIC_API_KEY": "sk-ant-secret"},
	}
	cfg := NewLoaderWithFS(fs, "", quietLogger()).LoadFile()

	assert.Equal(t, ModeHybrid, cfg.Mode)
	assert.Empty(t, cfg.AnthropicAPIKey)
	assert.Empty(t, cfg.HistoryDB)
	assert.Empty(t, cfg.LogDir)
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"local", ModeLocal, false},
		{"ollama", ModeLocal, false},
		{"Cloud", ModeCloud, false},
		{"claude", ModeCloud, false},
		{" hybrid ", ModeHybrid, false},
		{"", "", true},
		{"gpu", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
