package handler

// RESPONSE HELPERS:
// Every JSON answer goes through writeJSON / writeError, and every browser
// redirect that carries a result goes through redirectWithMessage /
// redirectWithError. Error bodies always have the same shape:
//
//	{"error": "No profile found. Please sign in first.", "code": "unauthorized"}

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/render"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
)

// ErrorResponse is the error body of every JSON endpoint.
type ErrorResponse struct {
	Error string `json:"error"` // safe to show the user
	Code  string `json:"code"`  // machine-readable kind
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// writeError maps an error kind to a status code. Only AppError.Message is
// ever shown; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		message = appErr.Message
	}

	writeJSON(w, r, status, ErrorResponse{Error: message, Code: code})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNetwork), errors.Is(err, apperror.ErrUpstreamRejected):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return http.StatusInternalServerError, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// noCache marks a response as never cacheable, by browsers or proxies.
func noCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Surrogate-Control", "no-store")
}

func redirectWithMessage(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/?"+url.Values{"message": {message}}.Encode(), http.StatusSeeOther)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/?"+url.Values{"error": {message}}.Encode(), http.StatusSeeOther)
}
