// ABOUTME: Request context helpers for the authenticated conversation and operator flag
// ABOUTME: Populated by the HTTP middleware and read by gateway handlers

package auth

import (
	"context"
)

type conversationKey struct{}

type operatorKey struct{}

// WithConversation returns a new context carrying the session's conversation ID.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversationID)
}

// ConversationFromContext returns the session's conversation ID, or "" if the
// request carried no valid session.
func ConversationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

// WithOperator marks the context as belonging to an authenticated operator.
func WithOperator(ctx context.Context) context.Context {
	return context.WithValue(ctx, operatorKey{}, true)
}

// IsOperator reports whether the request was authenticated as the operator.
func IsOperator(ctx context.Context) bool {
	ok, _ := ctx.Value(operatorKey{}).(bool)
	return ok
}
