// Package backend talks to the language model providers.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"ide3/internal/session"
)

// Provider kinds
const (
	KindLocal = "local"
	KindCloud = "cloud"
)

// ErrNoProviderAvailable is returned by Initialize when no backend answered.
var ErrNoProviderAvailable = errors.New("no model provider available")

// Handle identifies the provider chosen at startup. It does not change for
// the life of the process.
type Handle struct {
	Kind     string
	Backend  string
	Model    string
	Endpoint string
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s (%s)", h.Backend, h.Model, h.Kind)
}

// Chunk is one streamed fragment. A chunk with Err set is the last one.
type Chunk struct {
	Text string
	Err  error
}

// Provider sends a conversation and returns the assistant reply.
type Provider interface {
	Handle() Handle
	Chat(ctx context.Context, msgs []session.Message) (string, error)
	// ChatStream returns a finite channel that is closed after the final
	// fragment or the first error.
	ChatStream(ctx context.Context, msgs []session.Message) (<-chan Chunk, error)
}

// ModelLister is implemented by providers that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Collect drains a stream into the full reply. Text received before an
// error is returned along with it.
func Collect(ch <-chan Chunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// Options carries shared dependencies for the provider clients.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter

	// AnthropicBaseURL overrides the public endpoint.
	AnthropicBaseURL string
	// PreferredModels overrides the local model preference list.
	PreferredModels []string
	// ProbeTimeout bounds each availability check.
	ProbeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	if o.Meter == nil {
		o.Meter = noop.NewMeterProvider().Meter("backend")
	}
	if o.AnthropicBaseURL == "" {
		o.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if len(o.PreferredModels) == 0 {
		o.PreferredModels = PreferredModels
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	return o
}

// instruments wraps the telemetry every client records.
type instruments struct {
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

func newInstruments(o Options) instruments {
	return instruments{logger: o.Logger, tracer: o.Tracer, meter: o.Meter}
}

func (in instruments) recordDuration(ctx context.Context, backend string, start time.Time) {
	histogram, err := in.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// recordUsage exports token counts reported by a provider.
func (in instruments) recordUsage(ctx context.Context, usage map[string]int64) {
	for key, value := range usage {
		counter, err := in.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			in.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, value)
	}
}

// splitSystem separates the system prompt from the rest of the conversation.
func splitSystem(msgs []session.Message) (string, []session.Message) {
	var system []string
	rest := make([]session.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == session.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// send delivers c unless ctx ends first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
