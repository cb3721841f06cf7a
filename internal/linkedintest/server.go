// Package linkedintest runs a fake LinkedIn for tests: the OAuth token
// endpoint, the OpenID JWKS and the four profile API calls, backed by
// httptest.Server.
//
// Authorization codes are single-use, like LinkedIn's:
//
//	srv := linkedintest.NewServer(t)
//	srv.AddCode("ABC123", linkedintest.Member{Sub: "u1", GivenName: "Ada"})
//	// exchange "ABC123" once → tokens; a second time → 400 invalid_grant
package linkedintest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Endpoint names accepted by Fail.
const (
	EndpointToken     = "token"
	EndpointUserInfo  = "userinfo"
	EndpointEmail     = "email"
	EndpointPicture   = "picture"
	EndpointPositions = "positions"
)

const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"

	keyID = "test-key"
)

// Member is the LinkedIn account a code or token resolves to.
type Member struct {
	Sub           string
	Name          string
	GivenName     string
	FamilyName    string
	Email         string
	EmailVerified bool
	Picture       string
	// Locale is marshalled as-is: a string or a {country, language} object.
	Locale any

	// Values served by the secondary calls.
	PrimaryEmail string
	PictureURL   string
	Positions    []map[string]any
}

// Server is a fake LinkedIn.
type Server struct {
	*httptest.Server

	// RedirectURI, when set, must match the redirect_uri of token requests.
	RedirectURI string

	key *rsa.PrivateKey

	mu       sync.Mutex
	codes    map[string]Member
	tokens   map[string]Member
	failures map[string]int
	calls    map[string]int
	noIDTok  bool
	idTokSub string
}

// NewServer starts a fake LinkedIn that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("linkedintest: generating key: %v", err)
	}

	s := &Server{
		key:      key,
		codes:    make(map[string]Member),
		tokens:   make(map[string]Member),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/v2/accessToken", s.handleToken)
	mux.HandleFunc("GET /oauth/openid/jwks", s.handleJWKS)
	mux.HandleFunc("GET /v2/userinfo", s.handleUserInfo)
	mux.HandleFunc("GET /v2/emailAddress", s.handleEmail)
	mux.HandleFunc("GET /v2/me", s.handleMe)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) AuthURL() string   { return s.URL + "/oauth/v2/authorization" }
func (s *Server) TokenURL() string  { return s.URL + "/oauth/v2/accessToken" }
func (s *Server) APIURL() string    { return s.URL + "/v2" }
func (s *Server) LogoutURL() string { return s.URL + "/oauth/v2/logout" }
func (s *Server) Issuer() string    { return s.URL + "/oauth" }
func (s *Server) JWKSURL() string   { return s.URL + "/oauth/openid/jwks" }

// AddCode registers a single-use authorization code for m.
func (s *Server) AddCode(code string, m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = m
}

// AddToken registers an access token for m without going through a code.
func (s *Server) AddToken(token string, m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = m
}

// Fail makes endpoint answer with status until cleared with status 0.
func (s *Server) Fail(endpoint string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, endpoint)
		return
	}
	s.failures[endpoint] = status
}

// WithoutIDToken makes the token endpoint omit id_token.
func (s *Server) WithoutIDToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noIDTok = true
}

// IDTokenSubject overrides the sub claim of issued id_tokens.
func (s *Server) IDTokenSubject(sub string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTokSub = sub
}

// Calls reports how many requests endpoint has received.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// hit records a call and reports a configured failure status, if any.
func (s *Server) hit(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	return s.failures[endpoint]
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if status := s.hit(EndpointToken); status != 0 {
		writeJSON(w, status, map[string]string{"error": "server_error"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if s.RedirectURI != "" && r.PostForm.Get("redirect_uri") != s.RedirectURI {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_redirect_uri",
			"error_description": "Unable to retrieve access token: appid/redirect uri/code verifier does not match authorization code",
		})
		return
	}

	code := r.PostForm.Get("code")
	s.mu.Lock()
	m, ok := s.codes[code]
	delete(s.codes, code)
	accessToken := "at-" + code
	if ok {
		s.tokens[accessToken] = m
	}
	noIDTok, idTokSub := s.noIDTok, s.idTokSub
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "The provided authorization grant or refresh token is invalid, expired or revoked",
		})
		return
	}

	resp := map[string]any{
		"access_token":  accessToken,
		"refresh_token": "rt-" + code,
		"expires_in":    5184000,
		"token_type":    "Bearer",
		"scope":         "email,openid,profile",
	}
	if !noIDTok {
		sub := m.Sub
		if idTokSub != "" {
			sub = idTokSub
		}
		idToken, err := s.SignIDToken(sub, ClientID, time.Now().Add(time.Hour))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		resp["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

// SignIDToken issues an RS256 id_token with LinkedIn's claim layout.
func (s *Server) SignIDToken(sub, audience string, expiresAt time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            s.Issuer(),
		"aud":            audience,
		"sub":            sub,
		"iat":            time.Now().Unix(),
		"exp":            expiresAt.Unix(),
		"email_verified": "true",
	})
	tok.Header["kid"] = keyID
	return tok.SignedString(s.key)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

// member authenticates an API call the way LinkedIn does.
func (s *Server) member(w http.ResponseWriter, r *http.Request, endpoint string) (Member, bool) {
	if status := s.hit(endpoint); status != 0 {
		writeJSON(w, status, map[string]any{"status": status, "message": "injected failure"})
		return Member{}, false
	}
	if r.Header.Get("X-Restli-Protocol-Version") != "2.0.0" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "missing protocol version"})
		return Member{}, false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	m, known := s.tokens[token]
	s.mu.Unlock()
	if !ok || !known {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Invalid access token"})
		return Member{}, false
	}
	return m, true
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	m, ok := s.member(w, r, EndpointUserInfo)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            m.Sub,
		"name":           m.Name,
		"given_name":     m.GivenName,
		"family_name":    m.FamilyName,
		"email":          m.Email,
		"email_verified": m.EmailVerified,
		"picture":        m.Picture,
		"locale":         m.Locale,
	})
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	m, ok := s.member(w, r, EndpointEmail)
	if !ok {
		return
	}
	elements := []any{}
	if m.PrimaryEmail != "" {
		elements = append(elements, map[string]any{
			"handle":  "urn:li:emailAddress:1",
			"handle~": map[string]string{"emailAddress": m.PrimaryEmail},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": elements})
}

// handleMe serves both /me projections, told apart by the query.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	projection := r.URL.Query().Get("projection")

	if strings.Contains(projection, "profilePicture") {
		m, ok := s.member(w, r, EndpointPicture)
		if !ok {
			return
		}
		elements := []any{}
		if m.PictureURL != "" {
			elements = append(elements, map[string]any{
				"identifiers": []map[string]string{{"identifier": m.PictureURL}},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": m.Sub,
			"profilePicture": map[string]any{
				"displayImage~": map[string]any{"elements": elements},
			},
		})
		return
	}

	m, ok := s.member(w, r, EndpointPositions)
	if !ok {
		return
	}
	positions := m.Positions
	if positions == nil {
		positions = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        m.Sub,
		"positions": map[string]any{"elements": positions},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
