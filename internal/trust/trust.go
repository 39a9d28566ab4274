// Package trust decides whether the assistant may act in a directory.
package trust

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Gate answers trust questions against a Store and prompts the user for
// directories it has not seen.
type Gate struct {
	store Store
	in    *bufio.Reader
	out   io.Writer

	mu   sync.Mutex
	dirs map[string]struct{}
}

// NewGate loads the trusted set once. in and out are used for prompting.
func NewGate(store Store, in io.Reader, out io.Writer) (*Gate, error) {
	dirs, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted directories: %w", err)
	}
	g := &Gate{
		store: store,
		in:    bufio.NewReader(in),
		out:   out,
		dirs:  make(map[string]struct{}, len(dirs)),
	}
	for _, d := range dirs {
		g.dirs[canonical(d)] = struct{}{}
	}
	return g, nil
}

func canonical(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// IsTrusted reports an exact match. Subdirectories of a trusted directory are
// not trusted.
func (g *Gate) IsTrusted(dir string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.dirs[canonical(dir)]
	return ok
}

// CheckAndPrompt returns true if dir is trusted, asking the user when it is not
// yet known. A yes answer is persisted before returning.
func (g *Gate) CheckAndPrompt(dir string) (bool, error) {
	if g.IsTrusted(dir) {
		return true, nil
	}

	dir = canonical(dir)
	fmt.Fprintf(g.out, "\nDo you trust the files in this folder?\n\n  %s\n\n", dir)
	fmt.Fprintln(g.out, "The assistant will be able to read, write and execute files here.")
	fmt.Fprintln(g.out, "  1. Yes, proceed")
	fmt.Fprintln(g.out, "  2. No, exit")
	fmt.Fprint(g.out, "\nEnter to confirm · 1/2: ")

	answer, err := g.in.ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		// closed input is a refusal
		return false, nil
	}
	if !accepts(answer) {
		return false, nil
	}
	if err := g.Trust(dir); err != nil {
		return false, err
	}
	return true, nil
}

func accepts(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "1", "y", "yes":
		return true
	}
	return false
}

// Trust adds dir to the set and persists it. The set is unchanged if the
// store cannot be written.
func (g *Gate) Trust(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	dir = canonical(dir)
	if _, ok := g.dirs[dir]; ok {
		return nil
	}
	g.dirs[dir] = struct{}{}
	if err := g.persist(); err != nil {
		delete(g.dirs, dir)
		return err
	}
	return nil
}

// Untrust removes dir. It reports whether dir was trusted.
func (g *Gate) Untrust(dir string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dir = canonical(dir)
	if _, ok := g.dirs[dir]; !ok {
		return false, nil
	}
	delete(g.dirs, dir)
	if err := g.persist(); err != nil {
		g.dirs[dir] = struct{}{}
		return false, err
	}
	return true, nil
}

// List returns the trusted directories sorted.
func (g *Gate) List() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sorted()
}

// Clear forgets every directory.
func (g *Gate) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.dirs
	g.dirs = map[string]struct{}{}
	if err := g.persist(); err != nil {
		g.dirs = prev
		return err
	}
	return nil
}

func (g *Gate) sorted() []string {
	out := make([]string, 0, len(g.dirs))
	for d := range g.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// persist must be called with mu held.
func (g *Gate) persist() error {
	return g.store.Save(g.sorted())
}
