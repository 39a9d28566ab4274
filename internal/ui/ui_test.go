package ui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ide3/internal/action"
	"ide3/internal/extract"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncBuffer is written by the spinner goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_StartStop(t *testing.T) {
	var out syncBuffer
	s := NewSpinner(&out)
	s.interval = 5 * time.Millisecond

	assert.False(t, s.Active())
	s.Start("Thinking…")
	assert.True(t, s.Active())
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), clearLine) >= 3
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Active())
	assert.Contains(t, out.String(), "Thinking…")
	assert.True(t, strings.HasSuffix(out.String(), clearLine), "last write clears the line")

	// Idempotent.
	s.Stop()
}

func TestSpinner_RestartReplacesLabel(t *testing.T) {
	var out syncBuffer
	s := NewSpinner(&out)

	s.Start("first")
	s.Start("second")
	s.Stop()

	text := out.String()
	assert.Contains(t, text, "second")
	assert.Greater(t, strings.LastIndex(text, "second"), strings.LastIndex(text, "first"))
}

func TestRenderer_NoAnimationWritesNoSpinner(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)

	r.Busy("Thinking…")
	r.Idle()
	assert.Empty(t, out.String())
}

func outcome(a extract.Action, status action.Status) action.Outcome {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return action.Outcome{Action: a, Status: status, Started: start, Finished: start.Add(1500 * time.Millisecond)}
}

func TestStatusLine(t *testing.T) {
	write := extract.WriteFile{Path: "a.txt", Content: "hello"}
	read := extract.ReadFile{Path: "go.mod"}
	bash := extract.Execute{Language: "bash", Code: "echo hi"}
	ruby := extract.Execute{Language: "ruby", Code: "puts 1"}

	failedExit := outcome(bash, action.StatusFailed)
	failedExit.ExitCode = 2
	failedExit.Err = errors.New("exit status 2")

	failedWrite := outcome(write, action.StatusFailed)
	failedWrite.Err = &action.Error{Op: "write", Path: "a.txt", Cause: errors.New("permission denied")}

	unsupported := outcome(ruby, action.StatusSkipped)
	unsupported.Err = fmt.Errorf("wrap: %w", action.ErrUnsupportedLanguage)

	tests := []struct {
		name string
		o    action.Outcome
		want string
	}{
		{"write ok", outcome(write, action.StatusOK), "Wrote a.txt (5 bytes)"},
		{"read ok", outcome(read, action.StatusOK), "Read go.mod"},
		{"execute ok", outcome(bash, action.StatusOK), "bash finished in 1.5s"},
		{"non-zero exit", failedExit, "exited with code 2"},
		{"write failure", failedWrite, "permission denied"},
		{"timeout", outcome(bash, action.StatusTimedOut), "timed out after 1.5s"},
		{"unsupported language", unsupported, "unsupported language"},
		{"cancelled", outcome(bash, action.StatusSkipped), "Skipped execute bash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, StatusLine(tt.o), tt.want)
		})
	}
}

func TestRenderer_ObserverOutput(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)
	var _ action.Observer = r

	read := extract.ReadFile{Path: "notes.md"}
	bash := extract.Execute{Language: "bash", Code: "echo done"}
	write := extract.WriteFile{Path: "a.txt", Content: "hello"}

	r.PhaseStarted(action.PhaseFiles, 2)
	r.ActionStarted(write)
	r.ActionFinished(outcome(write, action.StatusOK))
	r.ActionStarted(read)
	ro := outcome(read, action.StatusOK)
	ro.Output = "# notes\n"
	ro.Truncated = true
	r.ActionFinished(ro)

	r.PhaseStarted(action.PhaseExecute, 1)
	r.ActionStarted(bash)
	eo := outcome(bash, action.StatusOK)
	eo.Output = "done\n"
	r.ActionFinished(eo)

	text := out.String()
	assert.Contains(t, text, "File operations (2)")
	assert.Contains(t, text, "Running code (1)")
	assert.Contains(t, text, "# notes")
	assert.Contains(t, text, "(output truncated)")
	assert.Contains(t, text, "done")
	assert.NotContains(t, text, "hello", "written content is not echoed")
}

func TestRenderer_LongOutputKeepsRunesWhole(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)

	bash := extract.Execute{Language: "bash", Code: "cat big.txt"}
	o := outcome(bash, action.StatusOK)
	o.Output = strings.Repeat("a", maxShownOutput-1) + strings.Repeat("é", 10)
	r.ActionFinished(o)

	assert.True(t, utf8.ValidString(out.String()))
	assert.Contains(t, out.String(), "…")
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clip(tt.in, tt.n), "clip(%q, %d)", tt.in, tt.n)
	}
}

func TestRenderer_Banner(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)

	r.Banner("llama2:7b", "local", "/work/project", false)
	text := out.String()
	assert.Contains(t, text, "llama2:7b")
	assert.Contains(t, text, "/work/project")
	assert.Contains(t, text, "OFF")
}
