package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPClient implements Client for remote servers that take one JSON-RPC
// request per POST.
type HTTPClient struct {
	protocol

	url        string
	httpClient *http.Client
	timeout    time.Duration
	reqID      atomic.Int32
}

// NewHTTPClient creates a client posting to url.
func NewHTTPClient(name, url string, timeout time.Duration, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	c := &HTTPClient{
		url:        url,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
	c.protocol = protocol{name: name, logger: logger, call: c.call}
	logger.Info("created MCP HTTP client", "name", name, "url", url)
	return c, nil
}

// Close has nothing to release.
func (c *HTTPClient) Close() error {
	c.logger.Info("closed MCP HTTP client", "name", c.name)
	return nil
}

func (c *HTTPClient) call(ctx context.Context, method string, params any) (any, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	requestJSON, err := json.Marshal(JSONRPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      int(c.reqID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if cause := context.Cause(ctx); cause == ErrTimeout {
			return nil, fmt.Errorf("%w after %s (%s)", ErrTimeout, c.timeout, method)
		}
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(body))
	}

	var response JSONRPCResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return responseResult(response)
}
