package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Conversation is the ordered message log of one chat session.
// The head is always the single system message.
type Conversation struct {
	ID        string
	StartTime time.Time

	system   string
	messages []Message
}

// NewConversation starts a conversation with a fresh session ID.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		system:    systemPrompt,
		messages:  []Message{{Role: RoleSystem, Content: systemPrompt}},
	}
}

// Append adds a user or assistant message.
func (c *Conversation) Append(role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("cannot append message with role %q", role)
	}
	c.messages = append(c.messages, Message{Role: role, Content: content})
	return nil
}

// Messages returns a copy of the log, system message first.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system message.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Reset drops everything but a fresh system message.
func (c *Conversation) Reset() {
	c.messages = []Message{{Role: RoleSystem, Content: c.system}}
}

// Replace swaps in a loaded message sequence. The sequence must start with the
// system message and contain no other; a missing head gets the current prompt.
func (c *Conversation) Replace(msgs []Message) error {
	if err := Validate(msgs); err != nil {
		return err
	}
	if len(msgs) == 0 || msgs[0].Role != RoleSystem {
		msgs = append([]Message{{Role: RoleSystem, Content: c.system}}, msgs...)
	}
	c.messages = make([]Message, len(msgs))
	copy(c.messages, msgs)
	return nil
}

// Validate checks roles and the single-system-message invariant.
func Validate(msgs []Message) error {
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return fmt.Errorf("message %d: system message must be first", i)
			}
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}
