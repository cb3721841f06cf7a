// Package handler contains the HTTP handlers.
//
// Handlers parse the request, call the service layer and write the
// response. They hold no business logic.
package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/home.html
var templates embed.FS

// HomeHandler serves the landing page the callback redirects to. The page
// only shows ?message= / ?error= and calls the JSON endpoints.
type HomeHandler struct {
	tmpl   *template.Template
	logger *slog.Logger
}

// NewHomeHandler parses the embedded page once at startup.
func NewHomeHandler(logger *slog.Logger) (*HomeHandler, error) {
	tmpl, err := template.ParseFS(templates, "templates/home.html")
	if err != nil {
		return nil, err
	}
	return &HomeHandler{tmpl: tmpl, logger: logger}, nil
}

// HandleHome serves GET /.
func (h *HomeHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title": "LinkedIn Profile Viewer",
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render page", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
