package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// StateCookieName holds the signed OAuth state between /signin and /callback.
	StateCookieName = "oauth_state"

	// StateTTL bounds how long a user may spend on LinkedIn's consent page.
	StateTTL = 10 * time.Minute

	stateBytes = 32
)

// NewState returns 32 random bytes, base64url encoded.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StatesEqual compares the state echoed by LinkedIn with the one from the
// cookie in constant time. Empty states never match.
func StatesEqual(fromCookie, fromQuery string) bool {
	if fromCookie == "" || fromQuery == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(fromCookie), []byte(fromQuery)) == 1
}
