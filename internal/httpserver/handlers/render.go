package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = map[string]*template.Template{
	"login":     template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/login.html")),
	"bookmarks": template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/bookmarks.html")),
}

// render executes the named page into a buffer first so a template error
// never leaves a half written response.
func render(w http.ResponseWriter, log logger.Logger, name string, data any) {
	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, name+".html", data); err != nil {
		log.Error("template render failed", logger.String("page", name), logger.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}
