package action

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Defaults for OSRunner
const (
	DefaultMaxOutput   = 256 * 1024
	DefaultGracePeriod = 2 * time.Second
	binarySampleSize   = 8000
)

// Result is the outcome of one process run.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
}

// Runner starts a process and waits for it under a time limit.
type Runner interface {
	RunWithTimeout(ctx context.Context, argv []string, dir string, timeout time.Duration) (*Result, error)
}

// OSRunner runs real processes with os/exec.
type OSRunner struct {
	MaxOutput int
	Grace     time.Duration
}

// RunWithTimeout interrupts the process when timeout elapses and kills it if
// it is still alive after the grace period. The returned error is ErrTimeout
// in that case and ctx.Err() when ctx ends first.
func (r *OSRunner) RunWithTimeout(ctx context.Context, argv []string, dir string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, os.ErrInvalid
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = nil

	maxBytes := r.MaxOutput
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutput
	}
	stdout := newCapture(maxBytes, binarySampleSize)
	stderr := newCapture(maxBytes, binarySampleSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// background children may keep the pipes open after the shell exits
	cmd.WaitDelay = r.grace()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var execErr error
	select {
	case execErr = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		execErr = ctx.Err()
	case <-timer.C:
		_ = cmd.Process.Signal(interruptSignal())
		grace := time.NewTimer(r.grace())
		select {
		case <-done:
		case <-grace.C:
			_ = cmd.Process.Kill()
			<-done
		}
		grace.Stop()
		execErr = ErrTimeout
	}

	exitCode := exitCodeOf(execErr)
	if errors.Is(execErr, ErrTimeout) {
		exitCode = -1
	}
	return &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}, execErr
}

func (r *OSRunner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return DefaultGracePeriod
}

// interrupt is not deliverable on windows
func interruptSignal() os.Signal {
	if runtime.GOOS == "windows" {
		return os.Kill
	}
	return os.Interrupt
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
