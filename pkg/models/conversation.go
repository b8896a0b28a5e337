// Package models defines the shared types exchanged between the assistant
// pipeline components: conversations and messages, tool call payloads, and
// the wire format of the outbound event stream.
package models

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is an ordered sequence of messages owned by a single user.
// It is created on the first turn and only ever mutated by appending
// messages; deletion is an external CRUD operation.
type Conversation struct {
	// ID is the unique conversation identifier.
	ID string `json:"id"`

	// OwnerID is the user who owns this conversation.
	OwnerID string `json:"owner_id"`

	// Messages in creation order.
	Messages []*Message `json:"messages,omitempty"`

	// CreatedAt is when the conversation was created.
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a conversation. Content is mutable while the
// message is streaming and append-only-closed once finalized. Within a
// conversation at most one message is in progress at a time.
type Message struct {
	// ID is the unique message identifier.
	ID string `json:"id"`

	// ConversationID references the owning conversation.
	ConversationID string `json:"conversation_id"`

	// Role is the message author.
	Role Role `json:"role"`

	// Content is the message text. While InProgress it grows
	// monotonically; it is never rewritten to something shorter.
	Content string `json:"content"`

	// InProgress is true while the message is still streaming.
	InProgress bool `json:"in_progress"`

	// CreatedAt is when the message was created.
	CreatedAt time.Time `json:"created_at"`
}

// Append extends the message content. Appends to a finalized message are
// ignored; content is monotonic by contract.
func (m *Message) Append(delta string) {
	if !m.InProgress || delta == "" {
		return
	}
	m.Content += delta
}

// Finalize marks the message complete. Idempotent: the first call wins and
// later calls are no-ops, since a transport done signal and a timeout can
// race. If replace is non-nil the accumulated content is replaced rather
// than kept (hard-timeout path).
func (m *Message) Finalize(replace *string) {
	if !m.InProgress {
		return
	}
	if replace != nil {
		m.Content = *replace
	}
	m.InProgress = false
}
