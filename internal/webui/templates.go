// ABOUTME: Template rendering functions for the end-user and operator pages
// ABOUTME: Loads templates from the embedded filesystem and renders them

package webui

import (
	"html/template"
	"net/http"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/assets"
)

// pageData is shared by both pages
type pageData struct {
	Title       string
	BodyClass   string
	Stylesheet  template.HTML
	Script      template.HTML
	Attachments bool
}

func parsePage(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+name))
}

var (
	userTemplate     = parsePage("user.html")
	operatorTemplate = parsePage("operator.html")
)

// renderUserPage renders the end-user chat page
func (u *UI) renderUserPage(w http.ResponseWriter) {
	data := pageData{
		Title:       u.config.Title,
		Stylesheet:  template.HTML(assets.StylesheetTag("style.css")),
		Script:      template.HTML(assets.ScriptTag("chat.js")),
		Attachments: u.config.Attachments,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := userTemplate.Execute(w, data); err != nil {
		u.logger.Error("failed to render user page", "error", err)
	}
}

// renderOperatorPage renders the operator console
func (u *UI) renderOperatorPage(w http.ResponseWriter) {
	data := pageData{
		Title:      u.config.Title + " · operator",
		BodyClass:  "operator-view",
		Stylesheet: template.HTML(assets.StylesheetTag("style.css")),
		Script:     template.HTML(assets.ScriptTag("operator.js")),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := operatorTemplate.Execute(w, data); err != nil {
		u.logger.Error("failed to render operator page", "error", err)
	}
}
