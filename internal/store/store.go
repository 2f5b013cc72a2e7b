// ABOUTME: Store interface and data types for the chat relay conversation log
// ABOUTME: Defines Conversation, Message, Role and the append-only Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
// Read paths for conversations never return it: an unknown conversation has
// an empty history.
var ErrNotFound = errors.New("not found")

// ErrEmptyConversationID is returned when an operation is called without a conversation id
var ErrEmptyConversationID = errors.New("conversation id is required")

// Role identifies who authored a message
type Role string

const (
	RoleEndUser  Role = "end_user"
	RoleOperator Role = "operator"
)

// Valid reports whether r is one of the two known roles
func (r Role) Valid() bool {
	return r == RoleEndUser || r == RoleOperator
}

// Message is a single immutable entry in a conversation log
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           *string   `json:"text"`
	AttachmentURL  *string   `json:"attachment_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the ordered message history between one end user and the operator
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Messages  []Message
}

// ConversationSummary is one row of the operator snapshot
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	MessageCount   int    `json:"message_count"`
}

// Store defines the conversation log persistence contract.
//
// Implementations must keep each conversation append-only and must never hand
// out slices that alias their internal state.
type Store interface {
	// GetOrCreate returns the conversation with the given id, registering an
	// empty one if it does not exist yet.
	GetOrCreate(ctx context.Context, conversationID string) (*Conversation, error)

	// Append adds msg to the end of the conversation log, creating the
	// conversation if needed.
	Append(ctx context.Context, conversationID string, msg *Message) error

	// History returns the full ordered log. Unknown ids yield an empty slice.
	History(ctx context.Context, conversationID string) ([]Message, error)

	// List returns every known conversation in creation order.
	List(ctx context.Context) ([]ConversationSummary, error)

	// Close releases any resources held by the store
	Close() error
}

// cloneMessage copies a message including its optional fields so callers
// cannot reach into the stored value.
func cloneMessage(m Message) Message {
	out := m
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	if m.AttachmentURL != nil {
		u := *m.AttachmentURL
		out.AttachmentURL = &u
	}
	return out
}
