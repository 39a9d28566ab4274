package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConversation(t *testing.T) *Conversation {
	t.Helper()
	c := NewConversation("be terse")
	require.NoError(t, c.Append(RoleUser, "make a todo app"))
	require.NoError(t, c.Append(RoleAssistant, "FILE_WRITE: index.html\n```html\n<h1>todo</h1>\n```\n"))
	require.NoError(t, c.Append(RoleUser, "  trailing spaces and: colons  \n"))
	return c
}

func TestConversation_SystemHeadAndReset(t *testing.T) {
	c := sampleConversation(t)
	require.Equal(t, 4, c.Len())
	assert.Equal(t, Message{Role: RoleSystem, Content: "be terse"}, c.Messages()[0])

	c.Reset()

	assert.Equal(t, []Message{{Role: RoleSystem, Content: "be terse"}}, c.Messages())
}

func TestConversation_AppendRejectsSystemRole(t *testing.T) {
	c := NewConversation("p")
	assert.Error(t, c.Append(RoleSystem, "second system"))
	assert.Error(t, c.Append("tool", "x"))
	assert.Equal(t, 1, c.Len())
}

func TestConversation_MessagesReturnsCopy(t *testing.T) {
	c := sampleConversation(t)
	msgs := c.Messages()
	msgs[1].Content = "mutated"

	assert.Equal(t, "make a todo app", c.Messages()[1].Content)
}

func TestConversation_SaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"chat.json", "chat.yaml", "chat.yml", "chat.txt"} {
		t.Run(name, func(t *testing.T) {
			src := sampleConversation(t)
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, src.Save(path))

			dst := NewConversation("other prompt")
			require.NoError(t, dst.Load(path))

			assert.Equal(t, src.Messages(), dst.Messages())
		})
	}
}

func TestConversation_LoadWithoutSystemHeadPrependsPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"role":"user","content":"hi"}]`), 0o644))

	c := NewConversation("current")
	require.NoError(t, c.Load(path))

	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "current"},
		{Role: RoleUser, Content: "hi"},
	}, c.Messages())
}

func TestConversation_LoadRejectsInvalidDocuments(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad-role.json":   `[{"role":"wizard","content":"x"}]`,
		"late-sys.json":   `[{"role":"user","content":"x"},{"role":"system","content":"y"}]`,
		"malformed.json":  `[{"role":`,
		"malformed.yaml":  "- role: [",
		"transcript.md":   "# Session",
		"missing.json":    "",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if name != "missing.json" {
				require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			}
			c := sampleConversation(t)
			before := c.Messages()

			assert.Error(t, c.Load(path))
			assert.Equal(t, before, c.Messages(), "failed load must not modify the conversation")
		})
	}
}

func TestConversation_MarkdownTranscript(t *testing.T) {
	c := sampleConversation(t)
	path := filepath.Join(t.TempDir(), "chat.md")
	require.NoError(t, c.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, "# Session "+c.ID))
	assert.Contains(t, out, "**user:**\n\nmake a todo app")
	assert.NotContains(t, out, "be terse")
	assert.ErrorIs(t, c.Load(path), ErrUnsupportedFormat)
}

func TestConversation_DefaultSaveName(t *testing.T) {
	c := NewConversation("p")
	assert.Equal(t, "chat-"+c.ID+".json", c.DefaultSaveName())
}
