// ABOUTME: In-memory implementation of the Store interface
// ABOUTME: Process-wide conversation logs guarded by a RWMutex, lost on restart

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps every conversation in process memory.
// It never returns an error.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	order         []string // conversation ids in creation order
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

// getOrCreateLocked must be called with mu held for writing
func (s *MemoryStore) getOrCreateLocked(conversationID string) *Conversation {
	if conv, ok := s.conversations[conversationID]; ok {
		return conv
	}
	conv := &Conversation{
		ID:        conversationID,
		CreatedAt: time.Now(),
	}
	s.conversations[conversationID] = conv
	s.order = append(s.order, conversationID)
	return conv
}

// GetOrCreate returns a snapshot of the conversation, creating it if absent.
func (s *MemoryStore) GetOrCreate(_ context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversationID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreateLocked(conversationID)
	return &Conversation{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt,
		Messages:  copyMessages(conv.Messages),
	}, nil
}

// Append stores a copy of msg at the end of the conversation log.
func (s *MemoryStore) Append(_ context.Context, conversationID string, msg *Message) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreateLocked(conversationID)
	stored := cloneMessage(*msg)
	stored.ConversationID = conversationID
	conv.Messages = append(conv.Messages, stored)
	return nil
}

// History returns a copy of the conversation log.
func (s *MemoryStore) History(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []Message{}, nil
	}
	return copyMessages(conv.Messages), nil
}

// List returns a summary of every conversation in creation order.
func (s *MemoryStore) List(_ context.Context) ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, ConversationSummary{
			ConversationID: id,
			MessageCount:   len(s.conversations[id].Messages),
		})
	}
	return out, nil
}

// Count returns the number of known conversations
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

func copyMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = cloneMessage(m)
	}
	return out
}
