package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ide3/internal/config"
	"ide3/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testOptions(srv *httptest.Server) Options {
	return Options{
		HTTPClient:       srv.Client(),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		AnthropicBaseURL: srv.URL,
	}
}

var conversation = []session.Message{
	{Role: session.RoleSystem, Content: "you write files"},
	{Role: session.RoleUser, Content: "hello"},
}

func ollamaServer(t *testing.T, models []string, chat http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var tags OllamaTagsResponse
		for _, m := range models {
			tags.Models = append(tags.Models, OllamaModel{Name: m})
		}
		_ = json.NewEncoder(w).Encode(tags)
	})
	if chat != nil {
		mux.HandleFunc("/api/chat", chat)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSelectModel(t *testing.T) {
	tests := []struct {
		name      string
		available []string
		want      string
		ok        bool
	}{
		{"preference order wins over list order", []string{"llama2:7b", "vicuna:13b-q4"}, "vicuna:13b-q4", true},
		{"case insensitive", []string{"mistral", "CodeLlama:13b"}, "CodeLlama:13b", true},
		{"no preference match falls back to first", []string{"mistral:latest", "phi3"}, "mistral:latest", true},
		{"nothing installed", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectModel(tt.available, PreferredModels)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitialize_LocalPicksPreferredModel(t *testing.T) {
	srv := ollamaServer(t, []string{"phi3", "llama2:13b"}, nil)
	cfg := config.Default()
	cfg.OllamaHost = srv.URL

	p, err := Initialize(context.Background(), cfg, testOptions(srv))
	require.NoError(t, err)

	assert.Equal(t, Handle{Kind: KindLocal, Backend: config.BackendOllama, Model: "llama2:13b", Endpoint: srv.URL}, p.Handle())
}

func TestInitialize_ConfiguredModelOverridesPreferences(t *testing.T) {
	srv := ollamaServer(t, []string{"llama2:13b", "phi3"}, nil)
	cfg := config.Default()
	cfg.OllamaHost = srv.URL
	cfg.PreferredModel = "PHI3"

	p, err := Initialize(context.Background(), cfg, testOptions(srv))
	require.NoError(t, err)
	assert.Equal(t, "phi3", p.Handle().Model)
}

func TestInitialize_HybridFallsBackToCloud(t *testing.T) {
	srv := ollamaServer(t, nil, nil)
	cfg := config.Default()
	cfg.Mode = config.ModeHybrid
	cfg.OllamaHost = srv.URL
	cfg.AnthropicAPIKey = "sk-test"

	p, err := Initialize(context.Background(), cfg, testOptions(srv))
	require.NoError(t, err)
	assert.Equal(t, KindCloud, p.Handle().Kind)
	assert.Equal(t, config.BackendAnthropic, p.Handle().Backend)
}

func TestInitialize_NothingAvailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	for _, mode := range []string{config.ModeLocal, config.ModeCloud, config.ModeHybrid} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.Mode = mode
			cfg.OllamaHost = srv.URL

			_, err := Initialize(context.Background(), cfg, testOptions(srv))
			assert.ErrorIs(t, err, ErrNoProviderAvailable)
		})
	}
}

func TestInitialize_CloudOpenAI(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeCloud
	cfg.CloudProvider = config.BackendOpenAI
	cfg.OpenAIAPIKey = "oa"

	p, err := Initialize(context.Background(), cfg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	assert.Equal(t, Handle{Kind: KindCloud, Backend: config.BackendOpenAI, Model: config.DefaultOpenAIModel, Endpoint: "https://api.openai.com/v1"}, p.Handle())
}

func TestOllama_ChatStreamSkipsMalformedLines(t *testing.T) {
	var got OllamaChatRequest
	srv := ollamaServer(t, []string{"llama2:7b"}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"after done"},"done":false}`)
	})
	c := NewOllamaClient(srv.URL, "llama2:7b", testOptions(srv))

	ch, err := c.ChatStream(context.Background(), conversation)
	require.NoError(t, err)
	reply, err := Collect(ch)

	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
	assert.True(t, got.Stream)
	assert.Equal(t, "llama2:7b", got.Model)
	assert.Equal(t, conversation, got.Messages)
}

func TestOllama_StreamErrorLine(t *testing.T) {
	srv := ollamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"}}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	})
	c := NewOllamaClient(srv.URL, "m", testOptions(srv))

	ch, err := c.ChatStream(context.Background(), conversation)
	require.NoError(t, err)
	reply, err := Collect(ch)

	assert.EqualError(t, err, "model crashed")
	assert.Equal(t, "partial", reply)
}

func TestOllama_ChatHTTPError(t *testing.T) {
	srv := ollamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	c := NewOllamaClient(srv.URL, "missing", testOptions(srv))

	_, err := c.Chat(context.Background(), conversation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")

	_, err = c.ChatStream(context.Background(), conversation)
	assert.Error(t, err)
}

func TestOllama_ChatBuffered(t *testing.T) {
	srv := ollamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		var req OllamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(OllamaChatResponse{Message: session.Message{Role: "assistant", Content: "whole"}, Done: true})
	})
	c := NewOllamaClient(srv.URL, "m", testOptions(srv))

	reply, err := c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "whole", reply)
}

func TestOllama_StreamStopsWhenContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := ollamaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"}}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c := NewOllamaClient(srv.URL, "m", testOptions(srv))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.ChatStream(ctx, conversation)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "a", first.Text)
	cancel()

	for range ch {
	}
}

func TestAnthropic_SeparatesSystemPrompt(t *testing.T) {
	var got AnthropicRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()
	c := NewAnthropicClient("sk-test", "", testOptions(srv))

	ch, err := c.ChatStream(context.Background(), conversation)
	require.NoError(t, err)
	reply, err := Collect(ch)

	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, "you write files", got.System)
	assert.Equal(t, []AnthropicMessage{{Role: "user", Content: "hello"}}, got.Messages)
	assert.Equal(t, 8000, got.MaxTokens)
	assert.Equal(t, config.DefaultAnthropicModel, got.Model)
	assert.Equal(t, "sk-test", headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", headers.Get("anthropic-version"))
}

func TestAnthropic_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewAnthropicClient("bad", "", testOptions(srv))

	_, err := c.Chat(context.Background(), conversation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication_error")
}

func TestOpenAI_ChatAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "local-model", body["model"])
		msgs := body["messages"].([]any)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"local-model\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", part)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c","object":"chat.completion","created":1,"model":"local-model","choices":[{"index":0,"message":{"role":"assistant","content":"whole"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer srv.Close()
	c := NewOpenAIClient("key", srv.URL+"/v1/", "local-model", testOptions(srv))

	reply, err := c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "whole", reply)

	ch, err := c.ChatStream(context.Background(), conversation)
	require.NoError(t, err)
	streamed, err := Collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello", streamed)
}

func TestCollect_ReturnsPartialTextWithError(t *testing.T) {
	ch := make(chan Chunk, 3)
	ch <- Chunk{Text: "a"}
	ch <- Chunk{Text: "b"}
	ch <- Chunk{Err: io.ErrUnexpectedEOF}
	close(ch)

	text, err := Collect(ch)
	assert.Equal(t, "ab", text)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
