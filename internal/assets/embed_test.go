package assets

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVersionsCoverEmbeddedFiles(t *testing.T) {
	for _, name := range []string{"style.css", "chat.js", "operator.js"} {
		v, ok := Versions[name]
		if !ok {
			t.Errorf("missing version for %s", name)
			continue
		}
		if len(v) != 8 {
			t.Errorf("version for %s = %q, want 8 hex chars", name, v)
		}
	}
}

func TestMimeFromExt(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".js", "application/javascript"},
		{".mjs", "application/javascript"},
		{".css", "text/css; charset=utf-8"},
		{".svg", "image/svg+xml"},
		{".map", "application/json"},
		{".qqqqqq", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeFromExt(tt.ext); got != tt.want {
			t.Errorf("mimeFromExt(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestURL(t *testing.T) {
	orig := Versions
	defer func() { Versions = orig }()

	Versions = map[string]string{"chat.js": "a1b2c3d4"}

	if got := URL("chat.js"); got != "/static/chat.js?v=a1b2c3d4" {
		t.Errorf("URL(chat.js) = %q", got)
	}
	if got := URL("missing.js"); got != "/static/missing.js" {
		t.Errorf("URL(missing.js) = %q", got)
	}
}

func TestTags(t *testing.T) {
	orig := Versions
	defer func() { Versions = orig }()

	Versions = map[string]string{"chat.js": "a1b2c3d4", "style.css": "e5f6a7b8"}

	if got := ScriptTag("chat.js"); !strings.Contains(got, `<script src="/static/chat.js?v=a1b2c3d4" defer></script>`) {
		t.Errorf("ScriptTag() = %q", got)
	}
	if got := StylesheetTag("style.css"); !strings.Contains(got, `<link rel="stylesheet" href="/static/style.css?v=e5f6a7b8">`) {
		t.Errorf("StylesheetTag() = %q", got)
	}
}

func TestFileServerCacheHeaders(t *testing.T) {
	handler := FileServer()

	req := httptest.NewRequest(http.MethodGet, "/chat.js?v="+Versions["chat.js"], nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/javascript" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Errorf("Cache-Control = %q, want immutable", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/chat.js?v=stale", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
}

func TestFileServerNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	FileServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
