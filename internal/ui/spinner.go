package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\033[K"

// Spinner animates a label on one terminal line until stopped. Only one
// animation runs at a time; Start replaces the current one.
type Spinner struct {
	out      io.Writer
	frames   []string
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner uses the MiniDot frame set.
func NewSpinner(out io.Writer) *Spinner {
	s := spinner.MiniDot
	return &Spinner{out: out, frames: s.Frames, interval: s.FPS}
}

// Start begins animating label.
func (s *Spinner) Start(label string) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(label, s.stop, s.done)
}

func (s *Spinner) spin(label string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(s.out, "%s%s %s", clearLine, s.frames[i%len(s.frames)], DimStyle.Render(label))
		select {
		case <-stop:
			fmt.Fprint(s.out, clearLine)
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the animation and clears its line. It is a no-op when idle.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Active reports whether an animation is running.
func (s *Spinner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}
