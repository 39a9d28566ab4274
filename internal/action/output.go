package action

import (
	"bytes"
	"fmt"
)

// capture keeps the head of a process stream and counts what it drops.
// Streams with a NUL byte near the start are treated as binary and not kept.
type capture struct {
	limit int
	sniff int // bytes still to inspect for NUL

	head   []byte
	seen   int64
	binary bool
}

func newCapture(limit, sniff int) *capture {
	return &capture{limit: limit, sniff: sniff}
}

// Write never fails so the child process is not blocked or killed by a full
// capture.
func (c *capture) Write(p []byte) (int, error) {
	c.seen += int64(len(p))
	if c.binary {
		return len(p), nil
	}
	if c.sniff > 0 {
		window := p[:min(len(p), c.sniff)]
		c.sniff -= len(window)
		if bytes.IndexByte(window, 0) >= 0 {
			c.binary = true
			c.head = nil
			return len(p), nil
		}
	}
	if room := c.limit - len(c.head); room > 0 {
		c.head = append(c.head, p[:min(len(p), room)]...)
	}
	return len(p), nil
}

func (c *capture) String() string {
	if c.binary {
		return fmt.Sprintf("[binary output, %d bytes]", c.seen)
	}
	return string(c.head)
}

// Truncated reports whether anything written was left out of String.
func (c *capture) Truncated() bool {
	return c.binary || c.seen > int64(len(c.head))
}
