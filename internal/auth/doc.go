// Package auth guards the two kinds of chat relay clients.
//
// # Operator
//
// The operator authenticates with a shared credential, sent either as
// "Authorization: Bearer <token>" or as a "token" query parameter. The
// credential is compared against a bcrypt hash (operator.token_hash) or, when
// no hash is configured, against a plain token in constant time. With neither
// configured the operator routes reject every request.
//
//	checker := NewOperatorChecker(cfg.Operator.Token, cfg.Operator.TokenHash)
//	mux.Handle("/operator/events", RequireOperator(checker)(handler))
//
// # End-user sessions
//
// A browser is bound to its conversation by an HS256 JWT stored in an
// HttpOnly cookie. The token's "sub" claim is the conversation ID.
//
//	sessions := NewSessions(NewJWTVerifier(secret), "relay_session", 30*24*time.Hour)
//	sessions.Issue(w, r, conversationID)
//	mux.Handle("/events", sessions.RequireSession(handler))
//
// Handlers read the identity with ConversationFromContext and IsOperator.
package auth
