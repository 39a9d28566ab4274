// Package action performs the side effects extracted from an assistant reply.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"ide3/internal/extract"
)

const (
	// DefaultTimeout bounds a single script run.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxReadBytes caps the content shown for a read.
	DefaultMaxReadBytes = 1 << 20
)

// Status of a finished action
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
)

// Phase groups actions that run together.
type Phase string

const (
	PhaseFiles   Phase = "files"
	PhaseExecute Phase = "execute"
)

// Outcome reports what happened to one action.
type Outcome struct {
	Action    extract.Action
	Status    Status
	Output    string // file content for reads, combined output for executes
	ExitCode  int
	Truncated bool
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Observer is notified as a plan runs. Calls happen on the Run goroutine.
type Observer interface {
	PhaseStarted(phase Phase, count int)
	ActionStarted(a extract.Action)
	ActionFinished(o Outcome)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) PhaseStarted(Phase, int)      {}
func (NopObserver) ActionStarted(extract.Action) {}
func (NopObserver) ActionFinished(Outcome)       {}

// Options configures an Executor.
type Options struct {
	Dir     string
	Timeout time.Duration
	Runner  Runner
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
	// MaxReadBytes caps read output; zero means DefaultMaxReadBytes.
	MaxReadBytes int
}

// Executor runs extracted actions. Writes and reads complete before any
// execute starts, and executes run one at a time in text order.
type Executor struct {
	dir     string
	timeout time.Duration
	runner  Runner
	logger  *slog.Logger
	tracer  trace.Tracer
	actions metric.Int64Counter
	maxRead int
	now     func() time.Time
}

// New creates an Executor. Zero options fall back to the working directory,
// DefaultTimeout, an OSRunner and no-op telemetry.
func New(opts Options) (*Executor, error) {
	e := &Executor{
		dir:     opts.Dir,
		timeout: opts.Timeout,
		runner:  opts.Runner,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		maxRead: opts.MaxReadBytes,
		now:     time.Now,
	}
	if e.dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		e.dir = wd
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.maxRead <= 0 {
		e.maxRead = DefaultMaxReadBytes
	}
	if e.runner == nil {
		e.runner = &OSRunner{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = tracenoop.NewTracerProvider().Tracer("action")
	}
	meter := opts.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("action")
	}
	counter, err := meter.Int64Counter(
		"ide3.actions",
		metric.WithDescription("Number of actions performed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create action counter: %w", err)
	}
	e.actions = counter
	return e, nil
}

// Timeout returns the per-script limit.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Run performs actions and returns one Outcome per action in the order they
// ran. A failing action never stops the ones after it. If ctx ends, the
// remaining actions are reported as skipped.
func (e *Executor) Run(ctx context.Context, actions []extract.Action, obs Observer) []Outcome {
	if obs == nil {
		obs = NopObserver{}
	}

	var files, executes []extract.Action
	for _, a := range actions {
		if a.Kind() == extract.KindExecute {
			executes = append(executes, a)
		} else {
			files = append(files, a)
		}
	}

	outcomes := make([]Outcome, 0, len(actions))
	for _, phase := range []struct {
		name    Phase
		actions []extract.Action
	}{
		{PhaseFiles, files},
		{PhaseExecute, executes},
	} {
		if len(phase.actions) == 0 {
			continue
		}
		obs.PhaseStarted(phase.name, len(phase.actions))
		for _, a := range phase.actions {
			obs.ActionStarted(a)
			o := e.perform(ctx, a)
			obs.ActionFinished(o)
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

func (e *Executor) perform(ctx context.Context, a extract.Action) Outcome {
	o := Outcome{Action: a, Started: e.now()}
	if err := ctx.Err(); err != nil {
		o.Status = StatusSkipped
		o.Err = err
		o.Finished = o.Started
		return o
	}

	ctx, span := e.tracer.Start(ctx, "action."+string(a.Kind()))
	defer span.End()

	switch v := a.(type) {
	case extract.WriteFile:
		span.SetAttributes(attribute.String("file.path", v.Path))
		e.write(v, &o)
	case extract.ReadFile:
		span.SetAttributes(attribute.String("file.path", v.Path))
		e.read(v, &o)
	case extract.Execute:
		span.SetAttributes(attribute.String("code.language", v.Language))
		e.execute(ctx, v, &o)
	default:
		o.Status = StatusSkipped
		o.Err = fmt.Errorf("unknown action %T", a)
	}
	o.Finished = e.now()

	if o.Err != nil {
		span.RecordError(o.Err)
		if o.Status != StatusSkipped {
			span.SetStatus(codes.Error, o.Err.Error())
		}
	}
	e.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(a.Kind())),
		attribute.String("status", string(o.Status)),
	))
	e.logger.Info("Action finished",
		"action", a.String(),
		"status", o.Status,
		"exit_code", o.ExitCode,
		"duration_ms", o.Finished.Sub(o.Started).Milliseconds(),
		"error", o.Err,
	)
	return o
}

func (e *Executor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.dir, path)
}

func (e *Executor) write(w extract.WriteFile, o *Outcome) {
	path := e.resolve(w.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		o.Status = StatusFailed
		o.Err = &Error{Op: "write", Path: w.Path, Cause: err}
		return
	}
	if err := os.WriteFile(path, []byte(w.Content), 0o644); err != nil {
		o.Status = StatusFailed
		o.Err = &Error{Op: "write", Path: w.Path, Cause: err}
		return
	}
	o.Status = StatusOK
}

func (e *Executor) read(r extract.ReadFile, o *Outcome) {
	data, err := os.ReadFile(e.resolve(r.Path))
	if err != nil {
		o.Status = StatusFailed
		o.Err = &Error{Op: "read", Path: r.Path, Cause: err}
		return
	}
	o.Status = StatusOK
	if len(data) > e.maxRead {
		data = data[:e.maxRead]
		o.Truncated = true
	}
	o.Output = string(data)
}

func (e *Executor) execute(ctx context.Context, x extract.Execute, o *Outcome) {
	argv, err := Command(x.Language, x.Code)
	if err != nil {
		o.Status = StatusSkipped
		o.Err = &Error{Op: "execute", Path: x.Language, Cause: err}
		return
	}

	res, err := e.runner.RunWithTimeout(ctx, argv, e.dir, e.timeout)
	if res != nil {
		o.Output = res.Combined()
		o.ExitCode = res.ExitCode
		o.Truncated = res.Truncated
	}
	switch {
	case err == nil:
		o.Status = StatusOK
	case errors.Is(err, ErrTimeout):
		o.Status = StatusTimedOut
		o.Err = &Error{Op: "execute", Path: x.Language, Cause: fmt.Errorf("%w after %s", ErrTimeout, e.timeout)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		o.Status = StatusSkipped
		o.Err = err
	default:
		o.Status = StatusFailed
		o.Err = &Error{Op: "execute", Path: x.Language, Cause: err}
	}
}
