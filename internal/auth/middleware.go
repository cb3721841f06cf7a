package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/session"
)

// contextKey is unexported so only this package can set or read the
// session stored in a request context.
type contextKey string

const sessionKey contextKey = "session"

// LoadSession resolves the session cookie, if any, and stores the verified
// session in the request context. It never blocks a request: handlers
// decide what an anonymous caller may do via SessionFromContext.
//
// A cookie is accepted only if its signature verifies and its id is still
// present in the session store, so a signed-out cookie stops working
// immediately.
func LoadSession(tokens *TokenService, store session.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := sessionFromRequest(r, tokens, store)
			switch {
			case err == nil:
				r = r.WithContext(WithSession(r.Context(), tok))
			case !errors.Is(err, apperror.ErrUnauthorized):
				// The store is down; carry on anonymously.
				logger.Warn("session lookup failed", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying tok.
func WithSession(ctx context.Context, tok SessionToken) context.Context {
	return context.WithValue(ctx, sessionKey, tok)
}

// SessionFromContext returns the caller's verified session.
//
//	sess, ok := auth.SessionFromContext(r.Context())
//	if !ok {
//	    // anonymous caller
//	}
func SessionFromContext(ctx context.Context) (SessionToken, bool) {
	tok, ok := ctx.Value(sessionKey).(SessionToken)
	return tok, ok && tok.SubjectID != ""
}

func sessionFromRequest(r *http.Request, tokens *TokenService, store session.Store) (SessionToken, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return SessionToken{}, apperror.Unauthorized("no session cookie")
	}

	tok, err := tokens.ParseSession(cookie.Value)
	if err != nil {
		return SessionToken{}, err
	}

	stored, err := store.Get(r.Context(), tok.SessionID)
	if err != nil {
		return SessionToken{}, err
	}
	if stored == nil || stored.SubjectID != tok.SubjectID {
		return SessionToken{}, apperror.Unauthorized("session revoked")
	}
	return tok, nil
}
