package action

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a script exceeds its time limit.
	ErrTimeout = errors.New("execution timed out")
	// ErrUnsupportedLanguage is returned for fence tags with no known interpreter.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Error describes a failed action.
type Error struct {
	Op    string // write, read, execute
	Path  string // file path, or the language for execute
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
