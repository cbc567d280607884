// Package message defines the content model shared by the agent runtime:
// discriminated content blocks, messages, and their JSON round-trip. Blocks
// are tagged variants with one payload per kind; constructors validate the
// discriminant so malformed values fail at build time.
package message

import "fmt"

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Content order is significant and
// committed messages are never mutated in place.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewUserMessage builds a user message from blocks.
func NewUserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

// NewAssistantMessage builds an assistant message from blocks.
func NewAssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// NewUserText builds a user message holding one text block.
func NewUserText(text string) Message {
	return NewUserMessage(NewTextBlock(text))
}

// Validate checks the role and every block.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	for i := range m.Content {
		if err := m.Content[i].Validate(); err != nil {
			return fmt.Errorf("content block %d: %w", i, err)
		}
	}
	return nil
}

// TextContent concatenates the message's text blocks.
func (m *Message) TextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Text != nil {
			out += b.Text.Text
		}
	}
	return out
}

// ToolUses returns the tool use blocks in content order.
func (m *Message) ToolUses() []*ToolUseBlock {
	var out []*ToolUseBlock
	for i := range m.Content {
		if m.Content[i].ToolUse != nil {
			out = append(out, m.Content[i].ToolUse)
		}
	}
	return out
}

// HasToolUse reports whether the message requests any tool.
func (m *Message) HasToolUse() bool {
	for i := range m.Content {
		if m.Content[i].ToolUse != nil {
			return true
		}
	}
	return false
}

// Clone deep-copies the message.
func (m Message) Clone() Message {
	out := Message{Role: m.Role}
	if m.Content != nil {
		out.Content = make([]ContentBlock, len(m.Content))
		for i := range m.Content {
			out.Content[i] = m.Content[i].Clone()
		}
	}
	return out
}

// CloneMessages deep-copies a conversation slice. Event observers receive
// these copies; the live conversation is owned by its agent.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}
