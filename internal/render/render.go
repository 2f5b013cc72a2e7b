// ABOUTME: Markdown rendering of message text using goldmark
// ABOUTME: Raw HTML in messages is omitted, never passed through

package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
)

// Message is a stored message with its text rendered to HTML
type Message struct {
	store.Message
	HTML string `json:"html,omitempty"`
}

// Renderer converts message text to HTML. A nil Renderer returns messages unchanged.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a renderer with linkify and strikethrough enabled
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		),
	}
}

// HTML renders markdown source to an HTML fragment
func (r *Renderer) HTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// Message attaches rendered HTML to m. Messages without text, or whose text
// fails to render, carry no HTML.
func (r *Renderer) Message(m store.Message) Message {
	out := Message{Message: m}
	if r == nil || m.Text == nil || *m.Text == "" {
		return out
	}
	if html, err := r.HTML(*m.Text); err == nil {
		out.HTML = html
	}
	return out
}

// Messages renders a whole history
func (r *Renderer) Messages(msgs []store.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = r.Message(m)
	}
	return out
}
