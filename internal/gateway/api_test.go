// ABOUTME: Tests for the JSON endpoints covering sessions, messages and operator replies
// ABOUTME: Drives the full handler with httptest recorders and real in-memory components

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/auth"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/config"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
)

const testOperatorToken = "operator-secret"

// newTestGateway creates a gateway with in-memory storage, optionally adjusting its config.
func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *Gateway {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// doRequest runs a single request through h. A non-nil cookie is attached.
func doRequest(t *testing.T, h http.Handler, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// doOperatorRequest runs a request carrying the operator bearer token.
func doOperatorRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testOperatorToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// startSession creates a conversation and returns its id and session cookie.
func startSession(t *testing.T, h http.Handler) (string, *http.Cookie) {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ConversationID)

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			return resp.ConversationID, c
		}
	}
	t.Fatal("session cookie not set")
	return "", nil
}

type messageBody struct {
	OK      bool          `json:"ok"`
	Message store.Message `json:"message"`
}

type historyBody struct {
	OK       bool            `json:"ok"`
	Messages []store.Message `json:"messages"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestStartSession_SetsCookie(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	resp := decode[SessionResponse](t, rec)
	snap, err := gw.relay.SnapshotForOperator(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.List, 1)
	assert.Equal(t, resp.ConversationID, snap.List[0].ConversationID)
}

func TestStartSession_ResumesExistingCookie(t *testing.T) {
	gw := newTestGateway(t)
	id, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/session", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[SessionResponse](t, rec).ConversationID)
}

func TestStartSession_InvalidCookieStartsNew(t *testing.T) {
	gw := newTestGateway(t)
	bogus := &http.Cookie{Name: auth.DefaultCookieName, Value: "not-a-jwt"}

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/session", "", bogus)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[SessionResponse](t, rec).ConversationID)
}

func TestUserMessage_RequiresSession(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserMessage_Recorded(t *testing.T) {
	gw := newTestGateway(t)
	id, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hello"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[messageBody](t, rec)
	assert.True(t, body.OK)
	assert.Equal(t, id, body.Message.ConversationID)
	assert.Equal(t, store.RoleEndUser, body.Message.Role)
	require.NotNil(t, body.Message.Text)
	assert.Equal(t, "hello", *body.Message.Text)
	assert.Nil(t, body.Message.AttachmentURL)
}

func TestUserMessage_AttachmentOnly(t *testing.T) {
	gw := newTestGateway(t)
	_, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message",
		`{"attachment_url":"https://example.com/a.png"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[messageBody](t, rec)
	assert.Nil(t, body.Message.Text)
	require.NotNil(t, body.Message.AttachmentURL)
	assert.Equal(t, "https://example.com/a.png", *body.Message.AttachmentURL)
}

func TestUserMessage_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"empty object", `{}`, "text or attachment_url is required"},
		{"blank text", `{"text":"   "}`, "text or attachment_url is required"},
		{"too long", fmt.Sprintf(`{"text":%q}`, strings.Repeat("é", 11)), "text too long"},
	}

	gw := newTestGateway(t, func(c *config.Config) { c.Limits.MaxTextLength = 10 })
	_, cookie := startSession(t, gw.Handler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", tt.body, cookie)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestUserMessage_MaxTextLengthCountsRunes(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Limits.MaxTextLength = 10 })
	_, cookie := startSession(t, gw.Handler())

	body := fmt.Sprintf(`{"text":%q}`, strings.Repeat("é", 10))
	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", body, cookie)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUserMessage_EmptyAllowedWhenConfigured(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Limits.AllowEmptyMessages = true })
	_, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[messageBody](t, rec)
	assert.Nil(t, body.Message.Text)
	assert.Nil(t, body.Message.AttachmentURL)
}

func TestUserMessage_BodyTooLarge(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Limits.MaxBodyBytes = 16 })
	_, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message",
		`{"text":"this body is longer than sixteen bytes"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserMessage_RateLimited(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) {
		c.Limits.MessagesPerSecond = 0.001
		c.Limits.Burst = 2
	})
	_, cookie := startSession(t, gw.Handler())

	for i := 0; i < 2; i++ {
		rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hi"}`, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hi"}`, cookie)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another conversation has its own bucket
	_, other := startSession(t, gw.Handler())
	rec = doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hi"}`, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserMessage_DuplicateClientID(t *testing.T) {
	gw := newTestGateway(t)
	id, cookie := startSession(t, gw.Handler())

	body := `{"text":"once","client_message_id":"c-1"}`
	first := decode[messageBody](t, doRequest(t, gw.Handler(), http.MethodPost, "/api/message", body, cookie))
	second := decode[messageBody](t, doRequest(t, gw.Handler(), http.MethodPost, "/api/message", body, cookie))

	assert.Equal(t, first.Message.ID, second.Message.ID)

	history, err := gw.relay.History(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUserHistory(t *testing.T) {
	gw := newTestGateway(t)
	_, cookie := startSession(t, gw.Handler())

	for _, text := range []string{"one", "two"} {
		rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message",
			fmt.Sprintf(`{"text":%q}`, text), cookie)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/api/history", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[historyBody](t, rec)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "one", *body.Messages[0].Text)
	assert.Equal(t, "two", *body.Messages[1].Text)
}

func TestUserHistory_NoSessionIsEmpty(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/api/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"messages":[]}`, rec.Body.String())
}

func TestOperatorRoutes_RequireToken(t *testing.T) {
	gw := newTestGateway(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/operator"},
		{http.MethodGet, "/operator/events"},
		{http.MethodPost, "/operator/reply"},
		{http.MethodGet, "/operator/history?conversation_id=x"},
		{http.MethodGet, "/operator/conversations"},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := doRequest(t, gw.Handler(), r.method, r.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			sep := "?"
			if strings.Contains(r.path, "?") {
				sep = "&"
			}
			rec = doRequest(t, gw.Handler(), r.method, r.path+sep+"token=wrong", "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestOperatorRoutes_DisabledWithoutCredential(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Operator.Token = "" })

	rec := doOperatorRequest(t, gw.Handler(), http.MethodGet, "/operator/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorReply(t *testing.T) {
	gw := newTestGateway(t)
	id, cookie := startSession(t, gw.Handler())

	rec := doOperatorRequest(t, gw.Handler(), http.MethodPost, "/operator/reply",
		fmt.Sprintf(`{"conversation_id":%q,"text":"hello from support"}`, id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reply := decode[messageBody](t, rec)
	assert.Equal(t, store.RoleOperator, reply.Message.Role)

	// The end user sees the reply in their history
	body := decode[historyBody](t, doRequest(t, gw.Handler(), http.MethodGet, "/api/history", "", cookie))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, reply.Message.ID, body.Messages[0].ID)
}

func TestOperatorReply_UnknownConversationIsCreated(t *testing.T) {
	gw := newTestGateway(t)

	rec := doOperatorRequest(t, gw.Handler(), http.MethodPost, "/operator/reply",
		`{"conversation_id":"fresh","text":"anyone there?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	history := decode[historyBody](t, doOperatorRequest(t, gw.Handler(), http.MethodGet,
		"/operator/history?conversation_id=fresh", ""))
	assert.Len(t, history.Messages, 1)
}

func TestOperatorReply_Validation(t *testing.T) {
	gw := newTestGateway(t)

	for _, body := range []string{`{`, `{"text":"hi"}`, `{"conversation_id":"c"}`, `{"conversation_id":"c","text":"  "}`, `{"conversation_id":"operator","text":"hi"}`} {
		rec := doOperatorRequest(t, gw.Handler(), http.MethodPost, "/operator/reply", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestOperatorHistory_UnknownConversationIsEmpty(t *testing.T) {
	gw := newTestGateway(t)

	rec := doOperatorRequest(t, gw.Handler(), http.MethodGet, "/operator/history?conversation_id=nope", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"messages":[]}`, rec.Body.String())
}

func TestOperatorConversations(t *testing.T) {
	gw := newTestGateway(t)
	first, cookie := startSession(t, gw.Handler())
	second, _ := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"hi"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doOperatorRequest(t, gw.Handler(), http.MethodGet, "/operator/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"list":[
		{"conversation_id":%q,"message_count":1},
		{"conversation_id":%q,"message_count":0}
	]}`, first, second), rec.Body.String())
}

func TestOperatorToken_QueryParameter(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/operator/conversations?token="+testOperatorToken, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMarkdownRendering(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Render.Markdown = true })
	_, cookie := startSession(t, gw.Handler())

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/api/message", `{"text":"**bold**"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Message struct {
			Text string `json:"text"`
			HTML string `json:"html"`
		} `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "**bold**", body.Message.Text)
	assert.Contains(t, body.Message.HTML, "<strong>bold</strong>")
}

func TestPages(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = doOperatorRequest(t, gw.Handler(), http.MethodGet, "/operator", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
