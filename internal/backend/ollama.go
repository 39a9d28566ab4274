package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"ide3/internal/config"
	"ide3/internal/session"
)

// OllamaChatRequest is the body of POST /api/chat.
type OllamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []session.Message `json:"messages"`
	Stream   bool              `json:"stream"`
}

// OllamaChatResponse is a whole reply, or one NDJSON line when streaming.
type OllamaChatResponse struct {
	Model     string          `json:"model"`
	CreatedAt string          `json:"created_at"`
	Message   session.Message `json:"message"`
	Done      bool            `json:"done"`
	Error     string          `json:"error,omitempty"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaClient is the local provider.
type OllamaClient struct {
	host  string
	model string
	http  *http.Client
	inst  instruments
}

// NewOllamaClient creates a client for host. model may be empty until a
// model is selected.
func NewOllamaClient(host, model string, opts Options) *OllamaClient {
	opts = opts.withDefaults()
	if host == "" {
		host = config.DefaultOllamaHost
	}
	return &OllamaClient{
		host:  strings.TrimRight(host, "/"),
		model: model,
		http:  opts.HTTPClient,
		inst:  newInstruments(opts),
	}
}

func (c *OllamaClient) Handle() Handle {
	return Handle{Kind: KindLocal, Backend: config.BackendOllama, Model: c.model, Endpoint: c.host}
}

// ListModels returns the names of installed models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama not reachable at %s: %w", c.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags: %s", resp.Status)
	}

	var tags OllamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *OllamaClient) post(ctx context.Context, stream bool, msgs []session.Message) (*http.Response, error) {
	jsonData, err := json.Marshal(OllamaChatRequest{Model: c.model, Messages: msgs, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Chat sends the conversation and waits for the whole reply.
func (c *OllamaClient) Chat(ctx context.Context, msgs []session.Message) (string, error) {
	ctx, span := c.inst.tracer.Start(ctx, "ollama_api_call")
	defer span.End()
	start := time.Now()

	resp, err := c.post(ctx, false, msgs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var apiResp OllamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	c.inst.recordDuration(ctx, config.BackendOllama, start)
	if apiResp.Error != "" {
		return "", errors.New(apiResp.Error)
	}
	return apiResp.Message.Content, nil
}

// ChatStream decodes the NDJSON stream. Lines that are not valid JSON are skipped.
func (c *OllamaClient) ChatStream(ctx context.Context, msgs []session.Message) (<-chan Chunk, error) {
	ctx, span := c.inst.tracer.Start(ctx, "ollama_api_call")
	start := time.Now()

	resp, err := c.post(ctx, true, msgs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer span.End()
		defer resp.Body.Close()
		defer c.inst.recordDuration(ctx, config.BackendOllama, start)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part OllamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				c.inst.logger.Debug("Skipping malformed stream line", "error", err)
				continue
			}
			if part.Error != "" {
				span.SetStatus(codes.Error, part.Error)
				send(ctx, ch, Chunk{Err: errors.New(part.Error)})
				return
			}
			if part.Message.Content != "" {
				if !send(ctx, ch, Chunk{Text: part.Message.Content}) {
					return
				}
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			send(ctx, ch, Chunk{Err: fmt.Errorf("stream interrupted: %w", err)})
		}
	}()
	return ch, nil
}
