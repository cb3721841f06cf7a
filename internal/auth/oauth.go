package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
)

// LinkedIn production endpoints.
const (
	DefaultAuthURL   = "https://www.linkedin.com/oauth/v2/authorization"
	DefaultTokenURL  = "https://www.linkedin.com/oauth/v2/accessToken"
	DefaultAPIURL    = "https://api.linkedin.com/v2"
	DefaultLogoutURL = "https://www.linkedin.com/oauth/v2/logout"
)

const (
	restliHeader  = "X-Restli-Protocol-Version"
	restliVersion = "2.0.0"

	// maxLoggedBody caps how much of an upstream error body reaches the logs.
	maxLoggedBody = 512
)

// Profile API paths, relative to the API base URL.
const (
	pathUserInfo  = "/userinfo"
	pathEmail     = "/emailAddress?q=members&projection=(elements*(handle~))"
	pathPicture   = "/me?projection=(id,profilePicture(displayImage~:playableStreams))"
	pathPositions = "/me?projection=(id,positions)"
)

// ProviderConfig is everything LinkedInProvider needs from configuration.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is sent on both the authorization request and the token
	// exchange; LinkedIn rejects the exchange unless they match exactly.
	RedirectURL string

	AuthURL   string
	TokenURL  string
	APIURL    string
	LogoutURL string

	// LogoutReturnURL is where LinkedIn sends the browser after logout.
	LogoutReturnURL string

	// Timeout bounds every individual call to LinkedIn.
	Timeout time.Duration
}

// TokenSet is the result of a successful code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds, as sent by LinkedIn
	ExpiresAt    time.Time
	IDToken      string // empty unless the openid scope was granted
}

// LinkedInProvider wraps golang.org/x/oauth2 for LinkedIn's Authorization
// Code flow and reads the member profile from the REST API.
type LinkedInProvider struct {
	config     *oauth2.Config
	apiURL     string
	logoutURL  string
	returnURL  string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewLinkedInProvider builds a provider from cfg. Empty endpoint fields fall
// back to LinkedIn's production URLs.
func NewLinkedInProvider(cfg ProviderConfig, logger *slog.Logger) *LinkedInProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &LinkedInProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  orDefault(cfg.AuthURL, DefaultAuthURL),
				TokenURL: orDefault(cfg.TokenURL, DefaultTokenURL),
				// LinkedIn expects client_id/client_secret in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     strings.TrimRight(orDefault(cfg.APIURL, DefaultAPIURL), "/"),
		logoutURL:  orDefault(cfg.LogoutURL, DefaultLogoutURL),
		returnURL:  cfg.LogoutReturnURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		logger:     logger,
		now:        time.Now,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// HTTPClient is the bounded client used for every LinkedIn call. The ID
// token verifier shares it to fetch signing keys.
func (p *LinkedInProvider) HTTPClient() *http.Client {
	return p.httpClient
}

// AuthURL returns the LinkedIn authorization URL for state.
func (p *LinkedInProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// SignOutURL returns LinkedIn's logout URL, which sends the browser back to
// the configured return URL.
func (p *LinkedInProvider) SignOutURL() string {
	q := url.Values{}
	q.Set("client_id", p.config.ClientID)
	if p.returnURL != "" {
		q.Set("redirect_uri", p.returnURL)
	}
	return p.logoutURL + "?" + q.Encode()
}

// Exchange trades an authorization code for tokens. Codes are single-use;
// the call is never retried.
func (p *LinkedInProvider) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, p.exchangeError(err)
	}

	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
	}
	if set.ExpiresIn > 0 {
		set.ExpiresAt = p.now().Add(time.Duration(set.ExpiresIn) * time.Second)
	} else {
		set.ExpiresAt = tok.Expiry
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = raw
	}
	return set, nil
}

func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (p *LinkedInProvider) exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		p.logger.Warn("linkedin token exchange rejected",
			"status", status,
			"error_code", re.ErrorCode,
			"body", truncate(string(re.Body)),
		)
		return apperror.UpstreamRejected("token exchange", status, errors.New(re.ErrorCode))
	}
	if isTransportError(err) {
		p.logger.Warn("linkedin token exchange unreachable", "error", err)
		return apperror.Network("token exchange", err)
	}
	// A 2xx answer the oauth2 package could not use, e.g. no access_token.
	p.logger.Warn("linkedin token exchange returned an unusable response", "error", err)
	return apperror.UpstreamRejected("token exchange", http.StatusOK, err)
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "..."
}

// FetchProfile reads the member behind accessToken.
//
// The basic identity call must succeed. Email, picture and positions are
// fetched concurrently afterwards; a failure of any of them is logged and
// the field keeps what the identity call returned.
func (p *LinkedInProvider) FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error) {
	var info userInfo
	if err := p.getJSON(ctx, accessToken, "fetch userinfo", pathUserInfo, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, &apperror.AppError{
			Err:     apperror.ErrUpstreamRejected,
			Message: "fetch userinfo: response has no subject",
		}
	}

	profile := &model.Profile{
		ProviderSubjectID: info.Sub,
		Name:              info.Name,
		GivenName:         info.GivenName,
		FamilyName:        info.FamilyName,
		Email:             info.Email,
		EmailVerified:     bool(info.EmailVerified),
		Picture:           info.Picture,
		Locale:            normalizeLocale(info.Locale),
	}

	var (
		email     string
		picture   string
		positions []model.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var resp emailResponse
		err := p.getJSON(gctx, accessToken, "fetch email", pathEmail, &resp)
		email = resp.primary()
		return p.secondary(ctx, "email", err)
	})
	g.Go(func() error {
		var resp pictureResponse
		err := p.getJSON(gctx, accessToken, "fetch picture", pathPicture, &resp)
		picture = resp.url()
		return p.secondary(ctx, "picture", err)
	})
	g.Go(func() error {
		var resp positionsResponse
		err := p.getJSON(gctx, accessToken, "fetch positions", pathPositions, &resp)
		positions = resp.toModel()
		return p.secondary(ctx, "positions", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if email != "" {
		profile.Email = email
	}
	if picture != "" {
		profile.Picture = picture
	}
	profile.Positions = positions

	return profile, nil
}

// secondary downgrades the error of an optional call to a warning. Only the
// caller giving up (ctx done) aborts the whole fetch.
func (p *LinkedInProvider) secondary(ctx context.Context, field string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return apperror.Network("fetch profile", ctx.Err())
	}
	p.logger.Warn("linkedin secondary profile call failed",
		"field", field,
		"error", err,
	)
	return nil
}

// getJSON performs one bounded GET against the REST API and decodes the
// 2xx body into out.
func (p *LinkedInProvider) getJSON(ctx context.Context, accessToken, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, p.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building %s request: %w", op, err)
	}
	req.Header.Set(restliHeader, restliVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperror.Network(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		p.logger.Warn("linkedin api rejected request",
			"op", op,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return apperror.UpstreamRejected(op, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.UpstreamRejected(op, resp.StatusCode, fmt.Errorf("decoding body: %w", err))
	}
	return nil
}
