package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCallTimeout bounds a single request to a tool server.
const DefaultCallTimeout = 5 * time.Minute

// ErrServerExited is returned for calls pending when the server process ends.
var ErrServerExited = errors.New("tool server exited")

// StdioClient talks line-delimited JSON-RPC to a local subprocess.
type StdioClient struct {
	protocol

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	timeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	nextID  int
	pending map[int]chan JSONRPCResponse
	closed  bool
	exited  chan struct{}
	readers sync.WaitGroup
}

// CommandArgs splits a server command line. A bare python script path is run
// with python3.
func CommandArgs(command string) ([]string, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty tool server command")
	}
	if len(args) == 1 && strings.HasSuffix(args[0], ".py") {
		return []string{"python3", args[0]}, nil
	}
	return args, nil
}

// NewStdioClient starts argv and begins reading its stdout. timeout bounds
// each call; zero means DefaultCallTimeout.
func NewStdioClient(name string, argv []string, timeout time.Duration, logger *slog.Logger) (*StdioClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty tool server command")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start tool server %s: %w", argv[0], err)
	}

	c := &StdioClient{
		cmd:     cmd,
		stdin:   stdin,
		timeout: timeout,
		pending: make(map[int]chan JSONRPCResponse),
		exited:  make(chan struct{}),
	}
	c.protocol = protocol{name: name, logger: logger, call: c.call, notify: c.notify}

	c.readers.Add(2)
	go c.readLoop(stdout)
	go c.logStderr(stderr)
	go func() {
		c.readers.Wait()
		_ = cmd.Wait()
		close(c.exited)
	}()

	logger.Info("started MCP stdio client", "name", name, "command", strings.Join(argv, " "))
	return c, nil
}

// readLoop dispatches responses to waiting calls by id.
func (c *StdioClient) readLoop(stdout io.Reader) {
	defer c.readers.Done()
	defer c.failPending(ErrServerExited)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			c.logger.Debug("ignoring non-JSON line from tool server", "server", c.name, "line", line)
			continue
		}
		if resp.ID == nil {
			c.logger.Debug("ignoring server notification", "server", c.name)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "server", c.name, "id", *resp.ID)
			continue
		}
		ch <- resp
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("error reading tool server output", "server", c.name, "error", err)
	}
}

func (c *StdioClient) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- JSONRPCResponse{ID: &id, Error: &RPCError{Code: -32000, Message: err.Error()}}
	}
	c.closed = true
}

func (c *StdioClient) call(ctx context.Context, method string, params any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan JSONRPCResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	requestJSON, err := json.Marshal(JSONRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(requestJSON, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return responseResult(resp)
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("%w after %s (%s)", ErrTimeout, c.timeout, method)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *StdioClient) notify(method string) error {
	msg, err := json.Marshal(map[string]string{"jsonrpc": jsonRPCVersion, "method": method})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(msg, '\n'))
	return err
}

func (c *StdioClient) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// logStderr logs stderr output from the server process
func (c *StdioClient) logStderr(stderr io.Reader) {
	defer c.readers.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debug("MCP server stderr", "server", c.name, "message", scanner.Text())
	}
}

// Close stops the server process and waits for the readers to finish.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		if err := c.cmd.Process.Kill(); err != nil {
			c.logger.Warn("failed to kill MCP server process", "error", err)
		}
		<-c.exited
	}
	if !alreadyClosed {
		c.logger.Info("closed MCP stdio client", "name", c.name)
	}
	return nil
}
