// ABOUTME: Serves the chat pages' static assets embedded via go:embed
// ABOUTME: Content-hash query strings give versioned URLs immutable cache headers

// Package assets serves the stylesheet and scripts used by the end-user and
// operator pages. Each file's URL carries a short content hash so browsers can
// cache it forever and still pick up a new build.
package assets

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFS embed.FS

// Versions maps asset names (e.g. "chat.js") to a short content hash.
// NOTE: Exported and mutable for testability. Not safe for concurrent mutation;
// tests that modify this must not use t.Parallel().
var Versions map[string]string

func init() {
	_ = mime.AddExtensionType(".map", "application/json")

	Versions = make(map[string]string)
	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(staticFS, p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		Versions[strings.TrimPrefix(p, "static/")] = hex.EncodeToString(sum[:4])
		return nil
	})
	if err != nil {
		slog.Error("failed to hash embedded assets", "error", err)
	}
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the Go standard library's MIME type database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".map":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// URL returns the versioned path of an asset under /static/.
// Unknown assets get an unversioned path.
func URL(name string) string {
	v, ok := Versions[name]
	if !ok {
		return "/static/" + name
	}
	return "/static/" + name + "?v=" + v
}

// ScriptTag returns a script tag for a JavaScript asset.
func ScriptTag(name string) string {
	return `<script src="` + URL(name) + `" defer></script>` + "\n"
}

// StylesheetTag returns a stylesheet link for a CSS asset.
func StylesheetTag(name string) string {
	return `<link rel="stylesheet" href="` + URL(name) + `">` + "\n"
}

// isCurrentVersion reports whether the request asks for the embedded version of the asset
func isCurrentVersion(r *http.Request) bool {
	name := strings.TrimPrefix(r.URL.Path, "/")
	v := r.URL.Query().Get("v")
	return v != "" && v == Versions[name]
}

// FileServer returns an http.Handler that serves embedded assets from static/.
// Requests for the current version get immutable cache headers; everything else gets no-cache.
// The handler expects paths relative to the static root (strip /static/ before calling).
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(path.Ext(r.URL.Path))
		if ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}

		if isCurrentVersion(r) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}

		fileServer.ServeHTTP(w, r)
	})
}
