package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// recordTimeout bounds each background post.
const recordTimeout = 5 * time.Second

// RESTSink posts entries to a PostgREST style endpoint, as exposed by Supabase.
type RESTSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
	timeout  time.Duration
	inflight sync.WaitGroup
}

// NewRESTSink targets {baseURL}/rest/v1/conversations.
func NewRESTSink(baseURL, apiKey string, client *http.Client, logger *slog.Logger) *RESTSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTSink{
		endpoint: strings.TrimRight(baseURL, "/") + "/rest/v1/conversations",
		apiKey:   apiKey,
		client:   client,
		logger:   logger,
		timeout:  recordTimeout,
	}
}

// Record posts e in the background and returns at once. The post outlives a
// cancelled ctx but not the sink's own deadline.
func (s *RESTSink) Record(ctx context.Context, e Entry) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.post(ctx, e); err != nil {
			logFailure(s.logger, "rest", e, err)
		}
	}()
}

func (s *RESTSink) post(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Close waits for posts still in flight.
func (s *RESTSink) Close() error {
	s.inflight.Wait()
	return nil
}
