package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"ide3/internal/config"
	"ide3/internal/session"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 8000
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent is one block of the reply
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from Anthropic API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      map[string]any     `json:"usage"`
}

// AnthropicClient is a cloud provider using the Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	inst    instruments
}

// NewAnthropicClient creates a client. An empty model selects the default.
func NewAnthropicClient(apiKey, model string, opts Options) *AnthropicClient {
	opts = opts.withDefaults()
	if model == "" {
		model = config.DefaultAnthropicModel
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(opts.AnthropicBaseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    opts.HTTPClient,
		inst:    newInstruments(opts),
	}
}

func (c *AnthropicClient) Handle() Handle {
	return Handle{Kind: KindCloud, Backend: config.BackendAnthropic, Model: c.model, Endpoint: c.baseURL}
}

// Chat sends the conversation with the system prompt carried separately.
func (c *AnthropicClient) Chat(ctx context.Context, msgs []session.Message) (string, error) {
	ctx, span := c.inst.tracer.Start(ctx, "anthropic_api_call")
	defer span.End()
	start := time.Now()

	reply, err := c.call(ctx, msgs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	c.inst.recordDuration(ctx, config.BackendAnthropic, start)
	return reply, nil
}

func (c *AnthropicClient) call(ctx context.Context, msgs []session.Message) (string, error) {
	system, rest := splitSystem(msgs)
	reqMessages := make([]AnthropicMessage, len(rest))
	for i, msg := range rest {
		reqMessages[i] = AnthropicMessage{Role: msg.Role, Content: msg.Content}
	}

	jsonData, err := json.Marshal(AnthropicRequest{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  reqMessages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResp AnthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	c.inst.recordUsage(ctx, usageCounts(apiResp.Usage))

	var text []string
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			text = append(text, content.Text)
		}
	}
	if len(text) == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}
	return strings.Join(text, ""), nil
}

// ChatStream delivers the buffered reply as a single fragment.
func (c *AnthropicClient) ChatStream(ctx context.Context, msgs []session.Message) (<-chan Chunk, error) {
	reply, err := c.Chat(ctx, msgs)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: reply}
	close(ch)
	return ch, nil
}

// usageCounts keeps the numeric entries of a usage object.
func usageCounts(usage map[string]any) map[string]int64 {
	out := make(map[string]int64, len(usage))
	for key, value := range usage {
		if n, ok := value.(float64); ok {
			out[key] = int64(n)
		}
	}
	return out
}
