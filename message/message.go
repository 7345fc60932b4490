package message

import "strings"

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn sent to a language-model backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// User is shorthand for a user message.
func User(content string) Message {
	return NewMessage(RoleUser, content)
}

// Assistant is shorthand for an assistant message.
func Assistant(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// Text returns the trimmed content.
func (m Message) Text() string {
	return strings.TrimSpace(m.Content)
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Transcript flattens messages into a single prompt for backends that accept
// one text input. System messages are skipped; callers pass them separately.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if len(msgs) > 1 {
			b.WriteString(strings.ToUpper(string(m.Role)))
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	return b.String()
}
