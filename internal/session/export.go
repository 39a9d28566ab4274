package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for files that cannot be loaded back.
var ErrUnsupportedFormat = errors.New("unsupported conversation format")

// Exporter writes a message sequence in one document format
type Exporter interface {
	Export(msgs []Message, w io.Writer) error
	Extension() string
}

// Importer reads back what the matching Exporter wrote
type Importer interface {
	Import(r io.Reader) ([]Message, error)
}

// JSONExporter writes the message array verbatim
type JSONExporter struct{}

func (JSONExporter) Export(msgs []Message, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(msgs)
}

func (JSONExporter) Extension() string { return "json" }

func (JSONExporter) Import(r io.Reader) ([]Message, error) {
	var msgs []Message
	if err := json.NewDecoder(r).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode json conversation: %w", err)
	}
	return msgs, nil
}

// YAMLExporter writes the message array as a YAML sequence
type YAMLExporter struct{}

func (YAMLExporter) Export(msgs []Message, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(msgs)
}

func (YAMLExporter) Extension() string { return "yaml" }

func (YAMLExporter) Import(r io.Reader) ([]Message, error) {
	var msgs []Message
	if err := yaml.NewDecoder(r).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode yaml conversation: %w", err)
	}
	return msgs, nil
}

// MarkdownExporter writes a human readable transcript. It cannot be loaded back.
type MarkdownExporter struct {
	SessionID string
}

func (e MarkdownExporter) Export(msgs []Message, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# Session %s\n\n**Messages:** %d\n\n", e.SessionID, len(msgs)); err != nil {
		return err
	}
	for i, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		if _, err := fmt.Fprintf(w, "**%s:**\n\n%s\n\n", m.Role, m.Content); err != nil {
			return err
		}
		if i < len(msgs)-1 {
			_, _ = fmt.Fprint(w, "---\n\n")
		}
	}
	return nil
}

func (MarkdownExporter) Extension() string { return "md" }

// exporterFor picks the format from the file extension; unknown extensions get JSON.
func exporterFor(path, sessionID string) Exporter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLExporter{}
	case ".md", ".markdown":
		return MarkdownExporter{SessionID: sessionID}
	default:
		return JSONExporter{}
	}
}

func importerFor(path string) (Importer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLExporter{}, nil
	case ".md", ".markdown":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	default:
		return JSONExporter{}, nil
	}
}

// DefaultSaveName is the file used by /save without an argument.
func (c *Conversation) DefaultSaveName() string {
	return fmt.Sprintf("chat-%s.json", c.ID)
}

// Save writes the conversation to path in the format implied by its extension.
func (c *Conversation) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := exporterFor(path, c.ID).Export(c.messages, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Load replaces the conversation with the messages stored at path.
func (c *Conversation) Load(path string) error {
	imp, err := importerFor(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	msgs, err := imp.Import(f)
	if err != nil {
		return err
	}
	return c.Replace(msgs)
}
