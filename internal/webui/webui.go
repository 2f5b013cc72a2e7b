// ABOUTME: Browser UI for the chat relay: end-user chat page and operator console
// ABOUTME: Serves embedded pages and static assets; all data flows through the JSON and SSE routes

package webui

import (
	"log/slog"
	"net/http"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/assets"
)

// Config holds UI configuration
type Config struct {
	// Title is shown in the page header and browser tab
	Title string

	// Attachments shows the attachment URL field on the end-user page
	Attachments bool
}

// UI handles the page routes
type UI struct {
	config Config
	logger *slog.Logger
}

// New creates a UI handler
func New(cfg Config, logger *slog.Logger) *UI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Title == "" {
		cfg.Title = "Chat"
	}
	return &UI{
		config: cfg,
		logger: logger.With("component", "webui"),
	}
}

// RegisterRoutes registers the page and asset routes on the given mux.
// requireOperator wraps the operator console.
func (u *UI) RegisterRoutes(mux *http.ServeMux, requireOperator func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /{$}", u.handleUserPage)
	mux.Handle("GET /operator", requireOperator(http.HandlerFunc(u.handleOperatorPage)))
	mux.Handle("GET /static/", http.StripPrefix("/static", assets.FileServer()))
}

func (u *UI) handleUserPage(w http.ResponseWriter, r *http.Request) {
	u.renderUserPage(w)
}

func (u *UI) handleOperatorPage(w http.ResponseWriter, r *http.Request) {
	u.renderOperatorPage(w)
}
