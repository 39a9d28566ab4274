package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client for remote servers over a WebSocket.
// Requests are serialized; the server answers each before the next is sent.
type WebSocketClient struct {
	protocol

	conn    *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	reqID  int
	closed bool
}

// NewWebSocketClient dials url.
func NewWebSocketClient(ctx context.Context, name, url string, timeout time.Duration, logger *slog.Logger) (*WebSocketClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c := &WebSocketClient{conn: conn, timeout: timeout}
	c.protocol = protocol{name: name, logger: logger, call: c.call}
	logger.Info("created MCP WebSocket client", "name", name, "url", url)
	return c, nil
}

// Close sends a close frame and drops the connection.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.logger.Info("closed MCP WebSocket client", "name", c.name)
	return err
}

func (c *WebSocketClient) call(ctx context.Context, method string, params any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	c.reqID++
	id := c.reqID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	if err := c.conn.WriteJSON(JSONRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		return nil, c.wrap(method, fmt.Errorf("failed to write request: %w", err))
	}

	for {
		var response JSONRPCResponse
		if err := c.conn.ReadJSON(&response); err != nil {
			return nil, c.wrap(method, fmt.Errorf("failed to read response: %w", err))
		}
		if response.ID == nil || *response.ID != id {
			c.logger.Debug("skipping unrelated message", "server", c.name)
			continue
		}
		return responseResult(response)
	}
}

func (c *WebSocketClient) wrap(method string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s (%s)", ErrTimeout, c.timeout, method)
	}
	return err
}
