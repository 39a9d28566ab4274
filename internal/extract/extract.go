// Package extract turns an assistant reply into the actions it asks for.
//
// A reply may contain FILE_WRITE markers directly followed by a fenced block,
// FILE_READ markers, and plain fenced code blocks. Fences follow the CommonMark
// rules: three or more backticks or tildes open a block and a line of the same
// character, at least as long and with nothing else on it, closes it.
package extract

import (
	"sort"
	"strings"
)

// Plan is the result of parsing one reply.
type Plan struct {
	// Source is the reply the plan was parsed from.
	Source string
	// Actions holds writes and reads in text order followed by executes in text order.
	Actions []Action
}

// Files returns the write and read actions in text order.
func (p Plan) Files() []Action {
	var out []Action
	for _, a := range p.Actions {
		if a.Kind() != KindExecute {
			out = append(out, a)
		}
	}
	return out
}

// Executes returns the execute actions in text order.
func (p Plan) Executes() []Execute {
	var out []Execute
	for _, a := range p.Actions {
		if e, ok := a.(Execute); ok {
			out = append(out, e)
		}
	}
	return out
}

// Prose returns the reply with every consumed span removed.
func (p Plan) Prose() string {
	if len(p.Actions) == 0 {
		return p.Source
	}
	spans := make([]Span, 0, len(p.Actions))
	for _, a := range p.Actions {
		spans = append(spans, a.Location())
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.Start > pos {
			b.WriteString(p.Source[pos:s.Start])
		}
		if s.End > pos {
			pos = s.End
		}
	}
	b.WriteString(p.Source[pos:])
	return b.String()
}

type line struct {
	text  string // without the line terminator
	start int
	end   int // offset of the terminator, or len(reply)
}

func splitLines(s string) []line {
	var lines []line
	start := 0
	for start <= len(s) {
		i := strings.IndexByte(s[start:], '\n')
		if i < 0 {
			if start < len(s) {
				lines = append(lines, line{text: strings.TrimSuffix(s[start:], "\r"), start: start, end: len(s)})
			}
			break
		}
		end := start + i
		lines = append(lines, line{text: strings.TrimSuffix(s[start:end], "\r"), start: start, end: end})
		start = end + 1
	}
	return lines
}

type fence struct {
	char byte
	size int
	info string
}

func openFence(text string) (fence, bool) {
	s := strings.TrimLeft(text, " \t")
	if len(s) < 3 || (s[0] != '`' && s[0] != '~') {
		return fence{}, false
	}
	n := run(s, s[0])
	if n < 3 {
		return fence{}, false
	}
	info := strings.TrimSpace(s[n:])
	if s[0] == '`' && strings.ContainsRune(info, '`') {
		return fence{}, false
	}
	return fence{char: s[0], size: n, info: info}, true
}

func (f fence) closedBy(text string) bool {
	s := strings.TrimSpace(text)
	n := run(s, f.char)
	return n >= f.size && n == len(s)
}

// language is the leading tag of the info string.
func (f fence) language() string {
	end := 0
	for end < len(f.info) && isTagByte(f.info[end]) {
		end++
	}
	if end == 0 {
		return DefaultLanguage
	}
	return strings.ToLower(f.info[:end])
}

func isTagByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return c == '_' || c == '+' || c == '-' || c == '#'
}

func run(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

// marker reports the trimmed path after m and the offset where m starts.
func marker(text, m string) (path string, at int, ok bool) {
	at = strings.Index(text, m)
	if at < 0 {
		return "", 0, false
	}
	path = strings.TrimSpace(text[at+len(m):])
	return path, at, path != ""
}

// Parse scans reply for actions. It never fails: malformed or unterminated
// constructs simply produce nothing.
func Parse(reply string) Plan {
	lines := splitLines(reply)

	var files []Action
	var executes []Action

	type pendingWrite struct {
		path  string
		line  int
		start int
	}
	var pending *pendingWrite

	for i := 0; i < len(lines); i++ {
		ln := lines[i]

		if f, ok := openFence(ln.text); ok {
			j := i + 1
			for j < len(lines) && !f.closedBy(lines[j].text) {
				j++
			}
			if j == len(lines) {
				// unterminated: the rest of the reply is inside the fence
				break
			}

			body := make([]string, 0, j-i-1)
			for _, b := range lines[i+1 : j] {
				body = append(body, b.text)
			}
			content := strings.TrimSpace(strings.Join(body, "\n"))

			if pending != nil && pending.line == i-1 {
				files = append(files, WriteFile{
					Path:    pending.path,
					Content: content,
					Loc:     Span{Start: pending.start, End: lines[j].end},
				})
			} else if content != "" {
				executes = append(executes, Execute{
					Language: f.language(),
					Code:     content,
					Loc:      Span{Start: ln.start, End: lines[j].end},
				})
			}
			pending = nil
			i = j
			continue
		}

		if path, at, ok := marker(ln.text, WriteMarker); ok {
			pending = &pendingWrite{path: path, line: i, start: ln.start + at}
			continue
		}
		if path, at, ok := marker(ln.text, ReadMarker); ok {
			files = append(files, ReadFile{Path: path, Loc: Span{Start: ln.start + at, End: ln.end}})
		}
	}

	return Plan{Source: reply, Actions: append(files, executes...)}
}
