package auth

import (
	"net/http"
	"time"
)

// SessionCookieName holds the signed session token.
const SessionCookieName = "session"

// CookieOptions controls attributes shared by every cookie we set.
type CookieOptions struct {
	Secure bool
}

// SetSessionCookie issues the session cookie, expiring with the session.
func SetSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time, opts CookieOptions) {
	setCookie(w, SessionCookieName, value, expiresAt, opts)
}

// SetStateCookie issues the short-lived OAuth state cookie.
func SetStateCookie(w http.ResponseWriter, value string, expiresAt time.Time, opts CookieOptions) {
	setCookie(w, StateCookieName, value, expiresAt, opts)
}

// ClearCookie removes the named cookie from the browser.
func ClearCookie(w http.ResponseWriter, name string, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SameSite=Lax still sends the cookie on LinkedIn's top-level redirect back
// to /callback.
func setCookie(w http.ResponseWriter, name, value string, expiresAt time.Time, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
