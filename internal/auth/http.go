// ABOUTME: HTTP middleware for operator credentials and session cookies
// ABOUTME: Extracts the operator token or session JWT and adds identity to the request context

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the session cookie used when none is configured
const DefaultCookieName = "relay_session"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// OperatorCredential returns the operator token from the Authorization header,
// falling back to the "token" query parameter. EventSource cannot set headers,
// so the operator page passes it in the URL.
func OperatorCredential(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireOperator creates an HTTP middleware that rejects requests without a
// valid operator credential.
func RequireOperator(checker *OperatorChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checker.Check(OperatorCredential(r)); err != nil {
				writeAuthError(w, "operator authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context())))
		})
	}
}

// Sessions issues and reads the signed session cookie.
type Sessions struct {
	verifier   *JWTVerifier
	cookieName string
	ttl        time.Duration
}

// NewSessions creates a session manager. Empty cookieName uses DefaultCookieName.
func NewSessions(verifier *JWTVerifier, cookieName string, ttl time.Duration) *Sessions {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Sessions{
		verifier:   verifier,
		cookieName: cookieName,
		ttl:        ttl,
	}
}

// CookieName returns the name of the session cookie
func (s *Sessions) CookieName() string {
	return s.cookieName
}

// Issue signs a token for conversationID and sets it as the session cookie.
func (s *Sessions) Issue(w http.ResponseWriter, r *http.Request, conversationID string) error {
	token, err := s.verifier.Generate(conversationID, s.ttl)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.ttl),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ConversationID returns the conversation bound to the request's session cookie.
func (s *Sessions) ConversationID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrInvalidToken
	}
	return s.verifier.Verify(cookie.Value)
}

// RequireSession creates an HTTP middleware that rejects requests without a
// valid session cookie.
func (s *Sessions) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := s.ConversationID(r)
		if err != nil {
			writeAuthError(w, "session required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithConversation(r.Context(), conversationID)))
	})
}

// OptionalSession attaches the session's conversation when present and
// otherwise lets the request through anonymously.
func (s *Sessions) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := s.ConversationID(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithConversation(r.Context(), conversationID)))
	})
}
