package extract

import "fmt"

// Directive markers recognised in assistant replies
const (
	WriteMarker = "FILE_WRITE:"
	ReadMarker  = "FILE_READ:"
)

// DefaultLanguage is assumed for fences without a language tag.
const DefaultLanguage = "bash"

// Kind identifies an action variant
type Kind string

const (
	KindWrite   Kind = "write"
	KindRead    Kind = "read"
	KindExecute Kind = "execute"
)

// Span is a half-open byte range [Start, End) of the reply an action was parsed from.
type Span struct {
	Start int
	End   int
}

// Action is one side effect requested by the assistant.
// The concrete types are WriteFile, ReadFile and Execute.
type Action interface {
	Kind() Kind
	Location() Span
	String() string
}

// WriteFile creates or overwrites Path with Content.
type WriteFile struct {
	Path    string
	Content string
	Loc     Span
}

func (WriteFile) Kind() Kind       { return KindWrite }
func (a WriteFile) Location() Span { return a.Loc }
func (a WriteFile) String() string { return fmt.Sprintf("write %s (%d bytes)", a.Path, len(a.Content)) }

// ReadFile displays the content of Path.
type ReadFile struct {
	Path string
	Loc  Span
}

func (ReadFile) Kind() Kind       { return KindRead }
func (a ReadFile) Location() Span { return a.Loc }
func (a ReadFile) String() string { return "read " + a.Path }

// Execute runs Code with the interpreter for Language.
type Execute struct {
	Language string
	Code     string
	Loc      Span
}

func (Execute) Kind() Kind       { return KindExecute }
func (a Execute) Location() Span { return a.Loc }
func (a Execute) String() string { return "execute " + a.Language }
