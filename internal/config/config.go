package config

import (
	"fmt"
	"strings"
	"time"
)

// Provider modes
const (
	ModeLocal  = "local"
	ModeCloud  = "cloud"
	ModeHybrid = "hybrid"
)

// Backends
const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// History sinks
const (
	SinkNone   = ""
	SinkSQLite = "sqlite"
	SinkREST   = "rest"
)

const (
	DefaultOllamaHost     = "http://localhost:11434"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

// ToolServer describes an external tool-call server. Exactly one of Command or URL is set.
type ToolServer struct {
	Name    string `json:"name"`
	Command string `json:"command,omitempty"` // local subprocess, e.g. "python3 mcp-server/server.py"
	URL     string `json:"url,omitempty"`     // http(s):// or ws(s):// remote
}

// Config holds application configuration.
// Keys are camelCase so files written by earlier IDE3 releases keep loading.
type Config struct {
	Mode            string `json:"mode"`
	OllamaHost      string `json:"ollamaHost,omitempty"`
	AnthropicAPIKey string `json:"anthropicApiKey,omitempty"`
	PreferredModel  string `json:"preferredModel,omitempty"`

	CloudProvider string `json:"cloudProvider,omitempty"`
	CloudModel    string `json:"cloudModel,omitempty"`
	OpenAIBaseURL string `json:"openaiBaseUrl,omitempty"`
	OpenAIAPIKey  string `json:"openaiApiKey,omitempty"`

	ExecTimeoutSeconds     int `json:"execTimeoutSeconds,omitempty"`
	ToolCallTimeoutSeconds int `json:"toolCallTimeoutSeconds,omitempty"`

	HistorySink string `json:"historySink,omitempty"`
	HistoryDB   string `json:"historyDb,omitempty"`
	HistoryURL  string `json:"historyUrl,omitempty"`
	HistoryKey  string `json:"historyKey,omitempty"`

	ToolServers []ToolServer `json:"toolServers,omitempty"`

	LogDir string `json:"logDir,omitempty"`
}

// Default returns the sovereign default: local models only.
func Default() *Config {
	return &Config{
		Mode:                   ModeLocal,
		OllamaHost:             DefaultOllamaHost,
		CloudProvider:          BackendAnthropic,
		ExecTimeoutSeconds:     60,
		ToolCallTimeoutSeconds: 300,
	}
}

// NormalizeMode maps a user supplied mode, including the legacy
// "ollama" and "claude" names, to one of the Mode constants.
func NormalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeLocal, BackendOllama, "sovereign":
		return ModeLocal, nil
	case ModeCloud, "claude", BackendAnthropic:
		return ModeCloud, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want local|cloud|hybrid)", mode)
	}
}

// ExecTimeout returns the execution timeout used by the chat loop.
func (c *Config) ExecTimeout() time.Duration {
	if c.ExecTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}

// ToolCallTimeout returns the upper bound for a single tool call.
func (c *Config) ToolCallTimeout() time.Duration {
	if c.ToolCallTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ToolCallTimeoutSeconds) * time.Second
}

// CloudModelName returns the cloud model, falling back to the backend default.
func (c *Config) CloudModelName() string {
	if c.CloudModel != "" {
		return c.CloudModel
	}
	if c.CloudProvider == BackendOpenAI {
		return DefaultOpenAIModel
	}
	return DefaultAnthropicModel
}

// normalize fills zero values left by a partial file and canonicalizes enums.
func (c *Config) normalize() {
	d := Default()
	if mode, err := NormalizeMode(c.Mode); err == nil {
		c.Mode = mode
	} else {
		c.Mode = d.Mode
	}
	if c.OllamaHost == "" {
		c.OllamaHost = d.OllamaHost
	}
	c.OllamaHost = strings.TrimRight(c.OllamaHost, "/")
	switch strings.ToLower(c.CloudProvider) {
	case BackendOpenAI:
		c.CloudProvider = BackendOpenAI
	default:
		c.CloudProvider = BackendAnthropic
	}
	c.HistorySink = strings.ToLower(c.HistorySink)
}
