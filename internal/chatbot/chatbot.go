// Package chatbot runs the interactive session: it reads user lines, streams
// replies from the provider and, in write mode, performs the actions found in
// each reply.
package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"ide3/internal/action"
	"ide3/internal/backend"
	"ide3/internal/config"
	"ide3/internal/extract"
	"ide3/internal/history"
	"ide3/internal/mcp"
	"ide3/internal/session"
	"ide3/internal/trust"
	"ide3/internal/ui"
)

// inputBuffer is how many typed lines may queue while a turn is running.
const inputBuffer = 32

// Deps are the collaborators of a ChatBot. Provider, Executor, Trust,
// Renderer and In are required.
type Deps struct {
	Config   *config.Config
	Loader   *config.Loader // persists /mode; nil disables it
	Provider backend.Provider
	Executor *action.Executor
	Trust    *trust.Gate
	History  history.Sink
	Tools    *mcp.ClientRegistry // nil when no tool servers are configured
	Renderer *ui.Renderer
	Logger   *slog.Logger
	Tracer   trace.Tracer

	In  io.Reader
	Dir string

	// Conversation resumes an earlier session; nil starts a new one.
	Conversation *session.Conversation
	WriteMode    bool

	// OnTransition observes state changes.
	OnTransition func(from, to State)
}

// ChatBot is the session context. It is used by a single goroutine.
type ChatBot struct {
	cfg          *config.Config
	loader       *config.Loader
	provider     backend.Provider
	executor     *action.Executor
	trust        *trust.Gate
	history      history.Sink
	tools        *mcp.ClientRegistry
	renderer     *ui.Renderer
	logger       *slog.Logger
	tracer       trace.Tracer
	in           io.Reader
	dir          string
	conv         *session.Conversation
	writeMode    bool
	state        State
	onTransition func(from, to State)
}

// New creates a ChatBot from deps.
func New(d Deps) (*ChatBot, error) {
	switch {
	case d.Provider == nil:
		return nil, fmt.Errorf("provider cannot be nil")
	case d.Executor == nil:
		return nil, fmt.Errorf("executor cannot be nil")
	case d.Trust == nil:
		return nil, fmt.Errorf("trust gate cannot be nil")
	case d.Renderer == nil:
		return nil, fmt.Errorf("renderer cannot be nil")
	case d.In == nil:
		return nil, fmt.Errorf("input cannot be nil")
	}

	cb := &ChatBot{
		cfg:          d.Config,
		loader:       d.Loader,
		provider:     d.Provider,
		executor:     d.Executor,
		trust:        d.Trust,
		history:      d.History,
		tools:        d.Tools,
		renderer:     d.Renderer,
		logger:       d.Logger,
		tracer:       d.Tracer,
		in:           d.In,
		dir:          d.Dir,
		conv:         d.Conversation,
		writeMode:    d.WriteMode,
		state:        StateIdle,
		onTransition: d.OnTransition,
	}
	if cb.cfg == nil {
		cb.cfg = config.Default()
	}
	if cb.history == nil {
		cb.history = history.Nop{}
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}
	if cb.tracer == nil {
		cb.tracer = tracenoop.NewTracerProvider().Tracer("chatbot")
	}
	if cb.conv == nil {
		cb.conv = session.NewConversation(SystemPrompt)
	}
	if cb.dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cb.dir = wd
	}
	return cb, nil
}

// Conversation returns the live conversation.
func (cb *ChatBot) Conversation() *session.Conversation {
	return cb.conv
}

// WriteMode reports whether replies are acted on.
func (cb *ChatBot) WriteMode() bool {
	return cb.writeMode
}

// readLines feeds input lines to the loop until EOF or stop.
func readLines(r io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}

// Run drives the session until EOF, /exit or ctx cancellation.
func (cb *ChatBot) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string, inputBuffer)
	go readLines(cb.in, lines, stop)

	h := cb.provider.Handle()
	cb.renderer.Banner(h.Model, h.Kind+" ("+h.Backend+")", cb.dir, cb.writeMode)
	cb.logger.Info("Session started",
		"session_id", cb.conv.ID,
		"backend", h.Backend,
		"model", h.Model,
		"write_mode", cb.writeMode,
	)

	for {
		cb.setState(StateIdle)
		cb.renderer.Prompt()

		var input string
		select {
		case <-ctx.Done():
			cb.terminate("interrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				cb.terminate("eof")
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cb.setState(StateCommand)
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.renderer.Error("%v", err)
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				cb.terminate("exit")
				return nil
			}
			continue
		}

		if err := cb.turn(ctx, input); err != nil {
			if ctx.Err() != nil {
				cb.terminate("interrupted")
				return nil
			}
			cb.renderer.Error("Error: %v", err)
			cb.logger.Error("failed to send message", "session_id", cb.conv.ID, "error", err)
		}
	}
}

func (cb *ChatBot) terminate(reason string) {
	cb.setState(StateTerminated)
	cb.renderer.Info("")
	cb.renderer.Info("Goodbye!")
	cb.logger.Info("Session ended", "session_id", cb.conv.ID, "reason", reason, "messages", cb.conv.Len())
}

// turn sends one user message and handles the reply.
func (cb *ChatBot) turn(ctx context.Context, text string) error {
	h := cb.provider.Handle()
	ctx, span := cb.tracer.Start(ctx, "chat_turn",
		trace.WithAttributes(
			attribute.String("session_id", cb.conv.ID),
			attribute.String("backend", h.Backend),
			attribute.Bool("write_mode", cb.writeMode),
		),
	)
	defer span.End()

	if err := cb.conv.Append(session.RoleUser, text); err != nil {
		return err
	}
	cb.record(ctx, session.RoleUser, text)

	cb.setState(StateAwaitingReply)
	reply, err := cb.stream(ctx)
	if err != nil {
		cb.setState(StateIdle)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if reply != "" {
			_ = cb.conv.Append(session.RoleAssistant, reply)
			cb.record(ctx, session.RoleAssistant, reply)
		}
		return err
	}

	if err := cb.conv.Append(session.RoleAssistant, reply); err != nil {
		return err
	}
	cb.record(ctx, session.RoleAssistant, reply)

	if !cb.writeMode {
		return nil
	}
	plan := extract.Parse(reply)
	span.SetAttributes(attribute.Int("actions", len(plan.Actions)))
	if len(plan.Actions) == 0 {
		return nil
	}
	if !cb.trust.IsTrusted(cb.dir) {
		cb.renderer.Warn("⊘ %d action(s) not run: %s is not trusted. Use /trust to review.", len(plan.Actions), cb.dir)
		return nil
	}

	cb.setState(StateExecutingActions)
	outcomes := cb.executor.Run(ctx, plan.Actions, cb.renderer)
	cb.summarize(outcomes)
	return nil
}

// stream forwards fragments to the terminal as they arrive and returns the
// full reply. Text received before an error is returned with it.
func (cb *ChatBot) stream(ctx context.Context) (string, error) {
	start := time.Now()
	ch, err := cb.provider.ChatStream(ctx, cb.conv.Messages())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var streamErr error
	for c := range ch {
		if c.Err != nil {
			streamErr = c.Err
			continue
		}
		if cb.state != StateRenderingReply {
			cb.setState(StateRenderingReply)
			cb.renderer.ReplyStart()
		}
		cb.renderer.Fragment(c.Text)
		b.WriteString(c.Text)
	}
	if cb.state == StateRenderingReply {
		cb.renderer.ReplyEnd()
	}

	cb.logger.Info("Reply received",
		"session_id", cb.conv.ID,
		"chars", b.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", streamErr,
	)
	return b.String(), streamErr
}

func (cb *ChatBot) summarize(outcomes []action.Outcome) {
	counts := map[action.Status]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	if counts[action.StatusOK] == len(outcomes) {
		cb.renderer.Success("All actions completed")
		cb.renderer.Info("")
		return
	}

	var parts []string
	for _, s := range []action.Status{action.StatusOK, action.StatusFailed, action.StatusTimedOut, action.StatusSkipped} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	cb.renderer.Warn("Actions finished: %s", strings.Join(parts, ", "))
	cb.renderer.Info("")
}

func (cb *ChatBot) record(ctx context.Context, role, content string) {
	cb.history.Record(ctx, history.Entry{
		SessionID: cb.conv.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

// isCancel reports whether err came from the session ending.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
