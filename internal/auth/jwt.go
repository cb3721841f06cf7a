// Package auth holds everything that talks OAuth2/OpenID Connect to LinkedIn
// and the signed cookies the application hands to the browser.
//
// SIGN-IN FLOW OVERVIEW:
//  1. GET /signin → random state, signed into the "oauth_state" cookie, and
//     the LinkedIn authorization URL carrying the same state
//  2. LinkedIn calls back /callback with code + state
//  3. The state cookie is verified against the query parameter
//  4. LinkedInProvider.Exchange trades the code for tokens
//  5. IDTokenVerifier checks the id_token, FetchProfile reads the member
//  6. A session is recorded server-side and its id is signed into the
//     "session" cookie
//
// Both cookies are HS256 JWTs. Their keys are derived from one
// SESSION_SECRET with HKDF so a state token can never be replayed as a
// session token (different key and different audience).
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/session"
)

const (
	tokenIssuer = "linkedin-profile-viewer"

	audienceSession = "session"
	audienceState   = "oauth-state"

	// MinSecretLength is the minimum SESSION_SECRET length accepted.
	MinSecretLength = 32
)

// TokenService signs and verifies the session and state cookies.
type TokenService struct {
	sessionKey []byte
	stateKey   []byte
	now        func() time.Time
}

// NewTokenService derives the signing keys from secret.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: session secret must be at least %d characters", MinSecretLength)
	}

	sessionKey, err := deriveKey(secret, "session-cookie")
	if err != nil {
		return nil, err
	}
	stateKey, err := deriveKey(secret, "oauth-state-cookie")
	if err != nil {
		return nil, err
	}

	return &TokenService{
		sessionKey: sessionKey,
		stateKey:   stateKey,
		now:        time.Now,
	}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("auth: deriving %s key: %w", info, err)
	}
	return key, nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

type stateClaims struct {
	State string `json:"state"`
	jwt.RegisteredClaims
}

// SessionToken is what a verified session cookie says about its bearer.
type SessionToken struct {
	SessionID string
	SubjectID string
	ExpiresAt time.Time
}

// IssueSession signs s into a session cookie value.
// sub carries the member's subject id and jti the server-side session id.
func (s *TokenService) IssueSession(sess session.Session) (string, error) {
	c := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.SubjectID,
			Audience:  jwt.ClaimStrings{audienceSession},
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	return sign(c, s.sessionKey)
}

// ParseSession verifies a session cookie value.
// Every failure is reported as apperror.ErrUnauthorized.
func (s *TokenService) ParseSession(tokenStr string) (SessionToken, error) {
	var c sessionClaims
	if err := s.parse(tokenStr, &c, s.sessionKey, audienceSession); err != nil {
		return SessionToken{}, err
	}
	if c.Subject == "" || c.ID == "" {
		return SessionToken{}, apperror.Unauthorized("session token is incomplete")
	}
	return SessionToken{
		SessionID: c.ID,
		SubjectID: c.Subject,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// IssueState signs an OAuth state value into a cookie value valid for ttl.
func (s *TokenService) IssueState(state string, ttl time.Duration) (string, error) {
	now := s.now()
	c := stateClaims{
		State: state,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceState},
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return sign(c, s.stateKey)
}

// ParseState verifies a state cookie value and returns the state inside.
func (s *TokenService) ParseState(tokenStr string) (string, error) {
	var c stateClaims
	if err := s.parse(tokenStr, &c, s.stateKey, audienceState); err != nil {
		return "", err
	}
	if c.State == "" {
		return "", apperror.Unauthorized("state token is empty")
	}
	return c.State, nil
}

func sign(c jwt.Claims, key []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// parse pins the algorithm to HS256 so a token with "alg":"none" or an
// asymmetric algorithm is rejected before the key is used.
func (s *TokenService) parse(tokenStr string, c jwt.Claims, key []byte, audience string) error {
	_, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "token expired", Cause: err}
		}
		return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "invalid token", Cause: err}
	}
	return nil
}
