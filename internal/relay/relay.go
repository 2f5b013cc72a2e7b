// ABOUTME: Relay service connecting inbound user and operator messages to storage and fan-out
// ABOUTME: Record first, then publish: every message is appended before any listener sees it

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/dedupe"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/fanout"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
)

// Event names published on the bus
const (
	EventMessage         = "message"          // full message, on the conversation channel
	EventNewUserMessage  = "new_user_message" // OperatorNotice, on the operator channel
	EventOperatorMessage = "operator_message" // OperatorNotice, on the operator channel
	EventSnapshot        = "snapshot"         // Snapshot, written once to a new operator stream
)

// PreviewLength is the maximum number of runes in an operator notice preview
const PreviewLength = 80

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conversationID string) (*store.Conversation, error)
	Append(ctx context.Context, conversationID string, msg *store.Message) error
	History(ctx context.Context, conversationID string) ([]store.Message, error)
	List(ctx context.Context) ([]store.ConversationSummary, error)
}

// Publisher defines what the service needs from the fan-out bus
type Publisher interface {
	Publish(channel, event string, payload any)
}

// Recorder receives relay statistics
type Recorder interface {
	ObserveMessage(role string)
	ObserveDuplicate()
}

// OperatorNotice is the summary published on the operator channel
type OperatorNotice struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Preview        string `json:"preview"`
}

// Snapshot is the initial listing sent to a newly connected operator view
type Snapshot struct {
	List []store.ConversationSummary `json:"list"`
}

// UserMessage carries the fields of an inbound end-user message
type UserMessage struct {
	Text          *string
	AttachmentURL *string

	// ClientKey is an optional idempotency key chosen by the client.
	// Resubmitting the same key returns the original message.
	ClientKey string
}

// Config wires the service's collaborators. Store and Bus are required.
type Config struct {
	Store    ConversationStore
	Bus      Publisher
	Dedupe   *dedupe.Cache // optional
	Recorder Recorder      // optional
	Logger   *slog.Logger  // optional
	Now      func() time.Time
}

// Service is the only writer of the conversation store.
//
// Each write runs append-then-publish inside one critical section, so the
// order of events on a channel matches the order of the log.
type Service struct {
	mu       sync.Mutex
	store    ConversationStore
	bus      Publisher
	dedupe   *dedupe.Cache
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	lastAt   map[string]time.Time // per-conversation timestamp of the last append
}

// New creates a relay service
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		bus:      cfg.Bus,
		dedupe:   cfg.Dedupe,
		recorder: cfg.Recorder,
		logger:   logger.With("component", "relay"),
		now:      now,
		lastAt:   make(map[string]time.Time),
	}
}

// StartSession registers the conversation if it does not exist yet.
func (s *Service) StartSession(ctx context.Context, conversationID string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.store.GetOrCreate(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return conv, nil
}

// ReceiveFromUser appends an end-user message and notifies the conversation
// channel and the operator channel.
func (s *Service) ReceiveFromUser(ctx context.Context, conversationID string, in UserMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dedupeKey string
	if in.ClientKey != "" && s.dedupe != nil {
		dedupeKey = dedupe.Key(conversationID, in.ClientKey)
		if msgID, ok := s.dedupe.Lookup(dedupeKey); ok {
			if original, err := s.findMessage(ctx, conversationID, msgID); err == nil && original != nil {
				s.logger.Debug("duplicate submission",
					"conversation_id", conversationID,
					"message_id", msgID)
				if s.recorder != nil {
					s.recorder.ObserveDuplicate()
				}
				return original, nil
			}
		}
	}

	msg := s.newMessage(conversationID, store.RoleEndUser, in.Text, in.AttachmentURL)
	if err := s.store.Append(ctx, conversationID, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.recorded(msg)

	if dedupeKey != "" {
		s.dedupe.Remember(dedupeKey, msg.ID)
	}

	s.bus.Publish(conversationID, EventMessage, *msg)
	s.bus.Publish(fanout.OperatorChannel, EventNewUserMessage, OperatorNotice{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Preview:        Preview(msg),
	})

	return msg, nil
}

// ReceiveFromOperator appends an operator reply, delivers it to the
// conversation channel and keeps other operator views in sync.
func (s *Service) ReceiveFromOperator(ctx context.Context, conversationID string, text string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.newMessage(conversationID, store.RoleOperator, &text, nil)
	if err := s.store.Append(ctx, conversationID, msg); err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}
	s.recorded(msg)

	s.bus.Publish(conversationID, EventMessage, *msg)
	s.bus.Publish(fanout.OperatorChannel, EventOperatorMessage, OperatorNotice{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Preview:        Preview(msg),
	})

	return msg, nil
}

// SnapshotForOperator lists every known conversation with its size.
func (s *Service) SnapshotForOperator(ctx context.Context) (*Snapshot, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return &Snapshot{List: list}, nil
}

// History returns the ordered log of a conversation; unknown ids are empty.
func (s *Service) History(ctx context.Context, conversationID string) ([]store.Message, error) {
	if conversationID == "" {
		return []store.Message{}, nil
	}
	msgs, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return msgs, nil
}

// newMessage builds a message stamped no earlier than the previous one in
// the same conversation. Must be called with mu held.
func (s *Service) newMessage(conversationID string, role store.Role, text, attachmentURL *string) *store.Message {
	at := s.now()
	if last, ok := s.lastAt[conversationID]; ok && at.Before(last) {
		at = last
	}
	return &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		AttachmentURL:  attachmentURL,
		CreatedAt:      at,
	}
}

// recorded updates bookkeeping after a successful append. Must be called with mu held.
func (s *Service) recorded(msg *store.Message) {
	s.lastAt[msg.ConversationID] = msg.CreatedAt
	if s.recorder != nil {
		s.recorder.ObserveMessage(string(msg.Role))
	}
	s.logger.Debug("message recorded",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"role", msg.Role)
}

// findMessage locates a message by id in a conversation log
func (s *Service) findMessage(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	msgs, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == messageID {
			m := msgs[i]
			return &m, nil
		}
	}
	return nil, nil
}

// Preview summarizes a message for the operator conversation list.
func Preview(msg *store.Message) string {
	if msg.Text != nil && *msg.Text != "" {
		return truncate(*msg.Text, PreviewLength)
	}
	if msg.AttachmentURL != nil && *msg.AttachmentURL != "" {
		return "[file]"
	}
	return ""
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
