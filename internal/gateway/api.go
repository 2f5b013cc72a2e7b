// ABOUTME: JSON endpoints for end-user sessions, messages and operator replies
// ABOUTME: Validates requests at the HTTP boundary and delegates to the relay service

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/auth"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/fanout"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/relay"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
)

// SessionResponse is returned by POST /api/session
type SessionResponse struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessageRequest is the body of POST /api/message
type SendMessageRequest struct {
	Text            *string `json:"text"`
	AttachmentURL   *string `json:"attachment_url"`
	ClientMessageID string  `json:"client_message_id"`
}

// ReplyRequest is the body of POST /operator/reply
type ReplyRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// MessageResponse wraps a single recorded message
type MessageResponse struct {
	OK      bool `json:"ok"`
	Message any  `json:"message"`
}

// HistoryResponse wraps a conversation log
type HistoryResponse struct {
	OK       bool `json:"ok"`
	Messages any  `json:"messages"`
}

// handleStartSession resumes the conversation bound to a valid session cookie
// or starts a new one and issues its cookie.
func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	conversationID, err := g.sessions.ConversationID(r)
	resumed := err == nil
	if !resumed {
		conversationID = uuid.New().String()
	}

	if _, err := g.relay.StartSession(r.Context(), conversationID); err != nil {
		g.logger.Error("failed to start session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Re-issuing on resume slides the cookie expiry forward.
	if err := g.sessions.Issue(w, r, conversationID); err != nil {
		g.logger.Error("failed to issue session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Debug("session started", "conversation_id", conversationID, "resumed", resumed)
	g.writeJSON(w, http.StatusOK, SessionResponse{ConversationID: conversationID})
}

// parseSendMessage decodes and validates a user message body.
func (g *Gateway) parseSendMessage(w http.ResponseWriter, r *http.Request) (*SendMessageRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Limits.MaxBodyBytes)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON")
	}

	req.Text = trimmedOrNil(req.Text)
	req.AttachmentURL = trimmedOrNil(req.AttachmentURL)

	if req.Text == nil && req.AttachmentURL == nil && !g.config.Limits.AllowEmptyMessages {
		return nil, errors.New("text or attachment_url is required")
	}
	if req.Text != nil && utf8.RuneCountInString(*req.Text) > g.config.Limits.MaxTextLength {
		return nil, errors.New("text too long")
	}
	return &req, nil
}

// trimmedOrNil treats blank strings as absent.
func trimmedOrNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// handleUserMessage records a message from the session's end user.
func (g *Gateway) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := auth.ConversationFromContext(r.Context())

	req, err := g.parseSendMessage(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !g.limiter.Allow(conversationID) {
		g.metrics.ObserveRateLimited()
		g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	msg, err := g.relay.ReceiveFromUser(r.Context(), conversationID, relay.UserMessage{
		Text:          req.Text,
		AttachmentURL: req.AttachmentURL,
		ClientKey:     req.ClientMessageID,
	})
	if err != nil {
		g.logger.Error("failed to record user message", "conversation_id", conversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, MessageResponse{OK: true, Message: g.messageView(*msg)})
}

// handleUserHistory returns the session's conversation log, or an empty list
// when the request carries no session.
func (g *Gateway) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	g.writeHistory(w, r, auth.ConversationFromContext(r.Context()))
}

// handleOperatorHistory returns the log of any conversation.
func (g *Gateway) handleOperatorHistory(w http.ResponseWriter, r *http.Request) {
	g.writeHistory(w, r, r.URL.Query().Get("conversation_id"))
}

func (g *Gateway) writeHistory(w http.ResponseWriter, r *http.Request, conversationID string) {
	messages, err := g.relay.History(r.Context(), conversationID)
	if err != nil {
		g.logger.Error("failed to load history", "conversation_id", conversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, HistoryResponse{OK: true, Messages: g.messagesView(messages)})
}

// handleOperatorReply records an operator reply into the given conversation.
func (g *Gateway) handleOperatorReply(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Limits.MaxBodyBytes)

	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ConversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	// The operator channel shares the bus namespace with conversations.
	if req.ConversationID == fanout.OperatorChannel {
		g.sendJSONError(w, http.StatusBadRequest, "invalid conversation_id")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	if utf8.RuneCountInString(req.Text) > g.config.Limits.MaxTextLength {
		g.sendJSONError(w, http.StatusBadRequest, "text too long")
		return
	}

	msg, err := g.relay.ReceiveFromOperator(r.Context(), req.ConversationID, req.Text)
	if err != nil {
		g.logger.Error("failed to record operator reply", "conversation_id", req.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, MessageResponse{OK: true, Message: g.messageView(*msg)})
}

// handleListConversations returns the operator snapshot as plain JSON.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	snap, err := g.relay.SnapshotForOperator(r.Context())
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, snap)
}

// messageView adds rendered HTML to a message when markdown rendering is on.
func (g *Gateway) messageView(m store.Message) any {
	if g.renderer == nil {
		return m
	}
	return g.renderer.Message(m)
}

func (g *Gateway) messagesView(msgs []store.Message) any {
	if g.renderer == nil {
		return msgs
	}
	return g.renderer.Messages(msgs)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
