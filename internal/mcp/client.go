// Package mcp is the client side of the JSON-RPC tool-call protocol spoken
// by external tool servers (Model Context Protocol).
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ide3/internal/config"
)

// maxConcurrentStarts bounds how many servers are brought up at once.
const maxConcurrentStarts = 4

// Client represents a connection to a tool server
type Client interface {
	// Initialize performs the protocol handshake
	Initialize(ctx context.Context) error

	// ListTools returns available tools from this server
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool with given arguments
	CallTool(ctx context.Context, toolName string, args map[string]any) (*CallToolResult, error)

	// Close disconnects from the server
	Close() error

	// Name returns the client identifier
	Name() string
}

// Tool represents a tool available for invocation
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	ServerName  string
}

// ClientRegistry manages multiple clients and the tools they expose
type ClientRegistry struct {
	clients map[string]Client
	tools   []Tool
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]Client),
	}
}

// Dial creates the client for one configured server without starting the
// handshake. Commands run as subprocesses; URLs use HTTP or WebSocket.
func Dial(ctx context.Context, s config.ToolServer, timeout time.Duration, logger *slog.Logger) (Client, error) {
	name := s.Name
	switch {
	case s.Command != "":
		if name == "" {
			name = s.Command
		}
		argv, err := CommandArgs(s.Command)
		if err != nil {
			return nil, err
		}
		return NewStdioClient(name, argv, timeout, logger)
	case strings.HasPrefix(s.URL, "ws://"), strings.HasPrefix(s.URL, "wss://"):
		if name == "" {
			name = s.URL
		}
		return NewWebSocketClient(ctx, name, s.URL, timeout, logger)
	case strings.HasPrefix(s.URL, "http://"), strings.HasPrefix(s.URL, "https://"):
		if name == "" {
			name = s.URL
		}
		return NewHTTPClient(name, s.URL, timeout, logger)
	default:
		return nil, fmt.Errorf("tool server %q needs a command or an http(s)/ws(s) url", s.Name)
	}
}

// Connect starts every server concurrently, performs the handshake and
// collects tools. Servers that fail are logged and left out; the error lists
// them but the registry is still usable.
func Connect(ctx context.Context, servers []config.ToolServer, timeout time.Duration, logger *slog.Logger) (*ClientRegistry, error) {
	r := NewClientRegistry()
	var (
		mu       sync.Mutex
		failures []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentStarts)
	for _, s := range servers {
		g.Go(func() error {
			client, err := Dial(gctx, s, timeout, logger)
			if err == nil {
				if err = client.Initialize(gctx); err != nil {
					_ = client.Close()
				}
			}
			if err != nil {
				logger.Warn("failed to start tool server", "server", s.Name, "error", err)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", s.Name, err))
				mu.Unlock()
				return nil
			}
			r.Register(client.Name(), client)
			return nil
		})
	}
	_ = g.Wait()

	if err := r.Refresh(ctx); err != nil {
		logger.Warn("failed to list tools", "error", err)
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		return r, fmt.Errorf("tool servers unavailable: %s", strings.Join(failures, "; "))
	}
	return r, nil
}

// Register adds a client to the registry
func (r *ClientRegistry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// Get retrieves a client by name
func (r *ClientRegistry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// All returns all registered clients sorted by name
func (r *ClientRegistry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name() < clients[j].Name() })
	return clients
}

// Refresh reloads the tool list from every client.
func (r *ClientRegistry) Refresh(ctx context.Context) error {
	var tools []Tool
	var firstErr error
	for _, client := range r.All() {
		t, err := client.ListTools(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", client.Name(), err)
			}
			continue
		}
		tools = append(tools, t...)
	}
	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
	return firstErr
}

// Tools returns the tools known from the last Refresh
func (r *ClientRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tool(nil), r.tools...)
}

// Call invokes toolName on the server that provides it.
func (r *ClientRegistry) Call(ctx context.Context, toolName string, args map[string]any) (*CallToolResult, error) {
	var owner Client
	r.mu.RLock()
	for _, t := range r.tools {
		if t.Name == toolName {
			owner = r.clients[t.ServerName]
			break
		}
	}
	r.mu.RUnlock()
	if owner == nil {
		return nil, fmt.Errorf("unknown tool %q", toolName)
	}
	return owner.CallTool(ctx, toolName, args)
}

// Close closes all registered clients
func (r *ClientRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close client %s: %w", name, err)
		}
	}
	r.clients = make(map[string]Client)
	r.tools = nil
	return firstErr
}

// Count returns the number of registered clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
