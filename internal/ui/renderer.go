package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"ide3/internal/action"
	"ide3/internal/extract"
)

// maxShownOutput caps the output printed under an action's status line.
const maxShownOutput = 4000

// Renderer writes the conversation and action progress to a terminal.
// It implements action.Observer.
type Renderer struct {
	out     io.Writer
	spinner *Spinner
}

// NewRenderer creates a Renderer. With animate false the spinner is never
// drawn, which keeps output deterministic for pipes and tests.
func NewRenderer(out io.Writer, animate bool) *Renderer {
	r := &Renderer{out: out}
	if animate {
		r.spinner = NewSpinner(out)
	}
	return r
}

// Out returns the underlying writer.
func (r *Renderer) Out() io.Writer {
	return r.out
}

// Busy shows label with the spinner until Idle is called.
func (r *Renderer) Busy(label string) {
	if r.spinner != nil {
		r.spinner.Start(label)
	}
}

// Idle stops any running spinner.
func (r *Renderer) Idle() {
	if r.spinner != nil {
		r.spinner.Stop()
	}
}

// Banner prints the welcome box.
func (r *Renderer) Banner(model, mode, path string, writeMode bool) {
	write := WarnStyle.Render("OFF")
	if writeMode {
		write = SuccessStyle.Render("ON")
	}
	body := strings.Join([]string{
		TitleStyle.Render("IDE3 v1.0.0"),
		"",
		LabelStyle.Render("Model:") + ValueStyle.Render(model),
		LabelStyle.Render("Mode:") + SuccessStyle.Render(mode),
		LabelStyle.Render("Path:") + ValueStyle.Render(path),
		LabelStyle.Render("Write:") + write,
		"",
		DimStyle.Render("/help for commands, /exit to quit"),
	}, "\n")
	fmt.Fprintln(r.out, BannerStyle.Render(body))
	fmt.Fprintln(r.out)
}

// Prompt prints the input prompt.
func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, PromptStyle.Render("> "))
}

// ReplyStart prints the assistant header before the first fragment.
func (r *Renderer) ReplyStart() {
	fmt.Fprint(r.out, "\n"+AssistantStyle.Render("Assistant:")+" ")
}

// Fragment prints streamed reply text as it arrives.
func (r *Renderer) Fragment(text string) {
	fmt.Fprint(r.out, text)
}

// ReplyEnd terminates the reply block.
func (r *Renderer) ReplyEnd() {
	fmt.Fprint(r.out, "\n\n")
}

// Info prints a plain status line.
func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.out, fmt.Sprintf(format, args...))
}

// Dim prints a secondary line.
func (r *Renderer) Dim(format string, args ...any) {
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf(format, args...)))
}

// Success prints a confirmation.
func (r *Renderer) Success(format string, args ...any) {
	fmt.Fprintln(r.out, SuccessStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning.
func (r *Renderer) Warn(format string, args ...any) {
	fmt.Fprintln(r.out, WarnStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (r *Renderer) Error(format string, args ...any) {
	fmt.Fprintln(r.out, ErrorStyle.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Field prints an aligned "label value" row.
func (r *Renderer) Field(label, value string) {
	fmt.Fprintln(r.out, "  "+LabelStyle.Render(label)+ValueStyle.Render(value))
}

// PhaseStarted implements action.Observer.
func (r *Renderer) PhaseStarted(phase action.Phase, count int) {
	switch phase {
	case action.PhaseFiles:
		fmt.Fprintln(r.out, TitleStyle.Render(fmt.Sprintf("▸ File operations (%d)", count)))
	case action.PhaseExecute:
		fmt.Fprintln(r.out, TitleStyle.Render(fmt.Sprintf("▸ Running code (%d)", count)))
	}
}

// ActionStarted implements action.Observer.
func (r *Renderer) ActionStarted(a extract.Action) {
	r.Busy(label(a))
}

// ActionFinished implements action.Observer.
func (r *Renderer) ActionFinished(o action.Outcome) {
	r.Idle()
	fmt.Fprintln(r.out, StatusLine(o))

	if o.Output == "" {
		return
	}
	switch o.Action.Kind() {
	case extract.KindRead, extract.KindExecute:
		out := strings.TrimRight(o.Output, "\n")
		if len(out) > maxShownOutput {
			out = clip(out, maxShownOutput) + "\n…"
		}
		fmt.Fprintln(r.out, OutputStyle.Render(out))
		if o.Truncated {
			fmt.Fprintln(r.out, DimStyle.Render("  (output truncated)"))
		}
	}
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func label(a extract.Action) string {
	switch v := a.(type) {
	case extract.WriteFile:
		return "Writing " + v.Path
	case extract.ReadFile:
		return "Reading " + v.Path
	case extract.Execute:
		return "Running " + v.Language
	}
	return a.String()
}

// StatusLine summarizes one outcome.
func StatusLine(o action.Outcome) string {
	elapsed := o.Finished.Sub(o.Started).Round(time.Millisecond)
	switch o.Status {
	case action.StatusOK:
		switch v := o.Action.(type) {
		case extract.WriteFile:
			return SuccessStyle.Render(fmt.Sprintf("✓ Wrote %s (%d bytes)", v.Path, len(v.Content)))
		case extract.ReadFile:
			return SuccessStyle.Render(fmt.Sprintf("✓ Read %s", v.Path))
		case extract.Execute:
			return SuccessStyle.Render(fmt.Sprintf("✓ %s finished in %s", v.Language, elapsed))
		}
	case action.StatusTimedOut:
		return WarnStyle.Render(fmt.Sprintf("⏱ %s timed out after %s", o.Action, elapsed))
	case action.StatusSkipped:
		if errors.Is(o.Err, action.ErrUnsupportedLanguage) {
			return WarnStyle.Render(fmt.Sprintf("⊘ Skipped %s: unsupported language", o.Action))
		}
		return WarnStyle.Render(fmt.Sprintf("⊘ Skipped %s", o.Action))
	case action.StatusFailed:
		if o.Action.Kind() == extract.KindExecute && o.ExitCode > 0 {
			return ErrorStyle.Render(fmt.Sprintf("✗ %s exited with code %d", o.Action, o.ExitCode))
		}
		return ErrorStyle.Render(fmt.Sprintf("✗ %s failed: %v", o.Action, o.Err))
	}
	return fmt.Sprintf("%s: %s", o.Action, o.Status)
}
