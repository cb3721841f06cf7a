package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/linkedin-profile-viewer/internal/auth"
	"github.com/sakif/linkedin-profile-viewer/internal/service"
)

// AuthHandler serves the sign-in, callback and sign-out routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignInURL    → GET  /signin:   authorization URL + state cookie
//   - HandleMarkSignedIn → POST /signin:   flag the session's profile signed in
//   - HandleCallback     → GET  /callback: finish the handshake, set the session cookie
//   - HandleSignOut      → GET  /signout:  revoke the session, clear the cookie
//
// All decisions live in service.AuthService; this type only moves values
// between HTTP and the service.
type AuthHandler struct {
	auth    *service.AuthService
	cookies auth.CookieOptions
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, cookies auth.CookieOptions, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:    svc,
		cookies: cookies,
		logger:  logger,
	}
}

// SignInURLResponse is the body of GET /signin.
type SignInURLResponse struct {
	URL string `json:"url"`
}

// HandleSignInURL starts a sign-in.
//
// HTTP: GET /signin
func (h *AuthHandler) HandleSignInURL(w http.ResponseWriter, r *http.Request) {
	start, err := h.auth.BeginSignIn()
	if err != nil {
		h.logger.Error("building sign-in URL failed", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Error: service.MsgSignInURLFailed,
			Code:  "internal_error",
		})
		return
	}

	auth.SetStateCookie(w, start.StateCookie, start.StateExpiresAt, h.cookies)
	noCache(w)
	writeJSON(w, r, http.StatusOK, SignInURLResponse{URL: start.URL})
}

// HandleMarkSignedIn flags the caller's profile as signed in.
//
// HTTP: POST /signin
func (h *AuthHandler) HandleMarkSignedIn(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	subjectID := ""
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		subjectID = sess.SubjectID
	}

	if err := h.auth.MarkSignedIn(r.Context(), subjectID); err != nil {
		h.logger.Warn("mark signed in failed", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: service.MsgSignedIn})
}

// HandleCallback completes the handshake LinkedIn redirected back with.
//
// HTTP: GET /callback?code=...&state=...   (or ?error=...)
//
// The browser always ends up on "/" with either ?message= or ?error=.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if c, err := r.Cookie(auth.StateCookieName); err == nil {
		params.StateCookie = c.Value
	}
	if prev, ok := auth.SessionFromContext(r.Context()); ok {
		params.Previous = &prev
	}

	// The state is single-use whatever the outcome.
	auth.ClearCookie(w, auth.StateCookieName, h.cookies)

	result, err := h.auth.CompleteSignIn(r.Context(), params)
	if err != nil {
		var fe *service.FlowError
		if errors.As(err, &fe) {
			redirectWithError(w, r, fe.UserMessage)
			return
		}
		h.logger.Error("callback failed", slog.String("error", err.Error()))
		redirectWithError(w, r, service.MsgAuthFailed)
		return
	}

	auth.SetSessionCookie(w, result.SessionCookie, result.Session.ExpiresAt, h.cookies)
	redirectWithMessage(w, r, service.MsgSignedIn)
}

// HandleSignOut ends the caller's session.
//
// HTTP: GET /signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	var sess *auth.SessionToken
	if tok, ok := auth.SessionFromContext(r.Context()); ok {
		sess = &tok
	}

	next, err := h.auth.SignOut(r.Context(), sess)
	if err != nil {
		redirectWithError(w, r, service.MsgSignOutFailed)
		return
	}

	auth.ClearCookie(w, auth.SessionCookieName, h.cookies)
	if next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	redirectWithMessage(w, r, service.MsgSignedOut)
}
