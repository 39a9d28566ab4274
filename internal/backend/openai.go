package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/codes"

	"ide3/internal/config"
	"ide3/internal/session"
)

// OpenAIClient is a cloud provider for any OpenAI compatible endpoint.
type OpenAIClient struct {
	client  openai.Client
	model   string
	baseURL string
	inst    instruments
}

// NewOpenAIClient creates a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string, opts Options) *OpenAIClient {
	opts = opts.withDefaults()
	if model == "" {
		model = config.DefaultOpenAIModel
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(opts.HTTPClient),
	}
	endpoint := "https://api.openai.com/v1"
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
		endpoint = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		baseURL: endpoint,
		inst:    newInstruments(opts),
	}
}

func (c *OpenAIClient) Handle() Handle {
	return Handle{Kind: KindCloud, Backend: config.BackendOpenAI, Model: c.model, Endpoint: c.baseURL}
}

func (c *OpenAIClient) params(msgs []session.Message) openai.ChatCompletionNewParams {
	history := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case session.RoleSystem:
			history = append(history, openai.SystemMessage(m.Content))
		case session.RoleAssistant:
			history = append(history, openai.AssistantMessage(m.Content))
		default:
			history = append(history, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: history,
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []session.Message) (string, error) {
	ctx, span := c.inst.tracer.Start(ctx, "openai_api_call")
	defer span.End()
	start := time.Now()

	resp, err := c.client.Chat.Completions.New(ctx, c.params(msgs))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	c.inst.recordDuration(ctx, config.BackendOpenAI, start)
	c.inst.recordUsage(ctx, map[string]int64{
		"input_tokens":  resp.Usage.PromptTokens,
		"output_tokens": resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, msgs []session.Message) (<-chan Chunk, error) {
	ctx, span := c.inst.tracer.Start(ctx, "openai_api_call")
	start := time.Now()

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(msgs))

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer span.End()
		defer stream.Close()
		defer c.inst.recordDuration(ctx, config.BackendOpenAI, start)

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, Chunk{Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			send(ctx, ch, Chunk{Err: fmt.Errorf("openai stream failed: %w", err)})
		}
	}()
	return ch, nil
}
