package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrTimeout is returned when a call is not answered in time.
	ErrTimeout = errors.New("tool call timed out")
	// ErrClosed is returned for calls on a closed client.
	ErrClosed = errors.New("client is closed")
)

// callFunc performs one request and returns the decoded JSON result.
type callFunc func(ctx context.Context, method string, params any) (any, error)

// notifyFunc sends a message that expects no reply.
type notifyFunc func(method string) error

// protocol implements the MCP methods on top of a transport's callFunc.
// notify is optional; transports without it skip notifications.
type protocol struct {
	name   string
	logger *slog.Logger
	call   callFunc
	notify notifyFunc
}

// Name returns the client identifier
func (p *protocol) Name() string {
	return p.name
}

// Initialize performs the handshake.
func (p *protocol) Initialize(ctx context.Context) error {
	var result InitializeResult
	if err := p.request(ctx, MethodInitialize, defaultInitializeParams(), &result); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if p.notify != nil {
		if err := p.notify(MethodInitialized); err != nil {
			return fmt.Errorf("initialized notification failed: %w", err)
		}
	}
	p.logger.Info("MCP server initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return nil
}

// ListTools returns available tools from this MCP server
func (p *protocol) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := p.request(ctx, MethodListTools, nil, &result); err != nil {
		return nil, fmt.Errorf("list tools failed: %w", err)
	}

	tools := make([]Tool, len(result.Tools))
	for i, info := range result.Tools {
		tools[i] = Tool{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: info.InputSchema,
			ServerName:  p.name,
		}
	}
	p.logger.Info("listed tools from MCP server", "server", p.name, "count", len(tools))
	return tools, nil
}

// CallTool invokes a tool with given arguments
func (p *protocol) CallTool(ctx context.Context, toolName string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var result CallToolResult
	if err := p.request(ctx, MethodCallTool, CallToolParams{Name: toolName, Arguments: args}, &result); err != nil {
		return nil, fmt.Errorf("call tool %s failed: %w", toolName, err)
	}
	p.logger.Info("called tool", "server", p.name, "tool", toolName, "is_error", result.IsError)
	return &result, nil
}

func (p *protocol) request(ctx context.Context, method string, params, out any) error {
	raw, err := p.call(ctx, method, params)
	if err != nil {
		return err
	}
	return decodeResult(raw, out)
}

// decodeResult maps a generic JSON value onto a typed result using the
// struct's json tags.
func decodeResult(raw, out any) error {
	if out == nil || raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// responseResult turns a response into its result or error.
func responseResult(resp JSONRPCResponse) (any, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
