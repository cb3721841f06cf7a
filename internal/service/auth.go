// Package service holds the sign-in business logic.
//
// AuthService sits between the HTTP handlers and everything else:
//
//	AuthHandler (HTTP) → AuthService → Provider (LinkedIn)
//	                                 ↘ ProfileRepository (MongoDB/SQLite)
//	                                 ↘ session.Store + TokenService (cookies)
//
// It never touches http.Request or http.ResponseWriter; the handler turns
// its results into cookies, JSON and redirects.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/auth"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
	"github.com/sakif/linkedin-profile-viewer/internal/repository"
	"github.com/sakif/linkedin-profile-viewer/internal/session"
)

// Messages shown to the browser in the ?error= / ?message= query parameter.
const (
	MsgSignedIn        = "Successfully signed in"
	MsgSignedOut       = "Successfully signed out"
	MsgInvalidState    = "Invalid OAuth state"
	MsgMissingCode     = "No authorization code received"
	MsgAuthFailed      = "Authentication failed"
	MsgFetchFailed     = "Failed to fetch profile"
	MsgSaveFailed      = "Failed to save profile"
	MsgSessionFailed   = "Failed to create session"
	MsgSignOutFailed   = "Failed to sign out"
	MsgNoProfile       = "No profile found. Please sign in first."
	MsgNoAccessToken   = "No access token found. Please sign in again."
	MsgSignInURLFailed = "Failed to generate sign-in URL"
)

// Provider is the LinkedIn side of the flow.
type Provider interface {
	AuthURL(state string) string
	SignOutURL() string
	Exchange(ctx context.Context, code string) (*auth.TokenSet, error)
	FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error)
}

// IDVerifier checks the id_token returned with the access token.
type IDVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.IDClaims, error)
}

// FlowError is a failed step of the sign-in or sign-out flow. UserMessage
// is safe to put in a redirect; Err carries the detail for logs.
type FlowError struct {
	UserMessage string
	Err         error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowError(msg string, err error) *FlowError {
	return &FlowError{UserMessage: msg, Err: err}
}

// Options are the behaviour switches of AuthService.
type Options struct {
	SessionTTL time.Duration
	// SingleTenant resolves an anonymous caller to the most recently
	// created profile.
	SingleTenant bool
	// SignOutViaProvider sends the browser to LinkedIn's logout page after
	// sign-out instead of back to the application.
	SignOutViaProvider bool
}

// AuthService orchestrates sign-in, callback, sign-out and profile reads.
type AuthService struct {
	provider Provider
	verifier IDVerifier // nil disables id_token verification
	profiles repository.ProfileRepository
	sessions session.Store
	tokens   *auth.TokenService
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService wires an AuthService. verifier may be nil.
func NewAuthService(
	provider Provider,
	verifier IDVerifier,
	profiles repository.ProfileRepository,
	sessions session.Store,
	tokens *auth.TokenService,
	opts Options,
	logger *slog.Logger,
) *AuthService {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &AuthService{
		provider: provider,
		verifier: verifier,
		profiles: profiles,
		sessions: sessions,
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SignInStart is what the browser needs to begin the flow.
type SignInStart struct {
	URL            string
	StateCookie    string
	StateExpiresAt time.Time
}

// BeginSignIn creates a fresh state and the LinkedIn authorization URL
// carrying it. The signed state goes into a short-lived cookie.
func (s *AuthService) BeginSignIn() (*SignInStart, error) {
	state, err := auth.NewState()
	if err != nil {
		return nil, err
	}
	cookie, err := s.tokens.IssueState(state, auth.StateTTL)
	if err != nil {
		return nil, err
	}
	return &SignInStart{
		URL:            s.provider.AuthURL(state),
		StateCookie:    cookie,
		StateExpiresAt: s.now().Add(auth.StateTTL),
	}, nil
}

// CallbackParams is the redirect LinkedIn sent back plus our state cookie.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	StateCookie      string
	// Previous is the session the browser already held, if any. It is
	// revoked once the new session exists.
	Previous *auth.SessionToken
}

// SignInResult is a completed sign-in.
type SignInResult struct {
	Profile       *model.Profile
	Session       session.Session
	SessionCookie string
}

// CompleteSignIn runs the callback handshake. Every failure is a
// *FlowError; nothing is written unless the token exchange and the basic
// identity call both succeeded.
//
// The handshake ignores cancellation of ctx: the code is spent as soon as
// it is exchanged, so a browser that goes away mid-flow must not leave
// the member half signed in. Each LinkedIn call carries its own timeout.
func (s *AuthService) CompleteSignIn(ctx context.Context, p CallbackParams) (*SignInResult, error) {
	ctx = context.WithoutCancel(ctx)

	if p.Error != "" {
		s.logger.Warn("linkedin returned an authorization error",
			"error", p.Error,
			"description", p.ErrorDescription,
		)
		return nil, flowError(p.Error, apperror.Unauthorized("authorization error: "+p.Error))
	}

	if err := s.verifyState(p); err != nil {
		s.logger.Warn("oauth state check failed", "error", err)
		return nil, flowError(MsgInvalidState, err)
	}

	if p.Code == "" {
		return nil, flowError(MsgMissingCode, apperror.ValidationFailed("code", "authorization code is missing"))
	}

	tokens, err := s.provider.Exchange(ctx, p.Code)
	if err != nil {
		s.logger.Error("token exchange failed", "error", err)
		return nil, flowError(MsgAuthFailed, err)
	}

	claims, err := s.verifyIDToken(ctx, tokens.IDToken)
	if err != nil {
		s.logger.Error("id token rejected", "error", err)
		return nil, flowError(MsgAuthFailed, err)
	}

	profile, err := s.provider.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		s.logger.Error("profile fetch failed", "error", err)
		return nil, flowError(MsgFetchFailed, err)
	}

	if claims != nil && claims.Subject != profile.ProviderSubjectID {
		err := apperror.Unauthorized("id token subject does not match userinfo subject")
		s.logger.Error("id token subject mismatch",
			"id_token_sub", claims.Subject,
			"userinfo_sub", profile.ProviderSubjectID,
		)
		return nil, flowError(MsgAuthFailed, err)
	}

	now := s.now().UTC()
	profile.AccessToken = tokens.AccessToken
	profile.RefreshToken = tokens.RefreshToken
	profile.TokenExpiresAt = tokens.ExpiresAt
	profile.IsSignedIn = true
	profile.IsSignedOut = false
	profile.LastSignInAt = &now

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		s.logger.Error("saving profile failed",
			"subject", profile.ProviderSubjectID,
			"error", err,
		)
		return nil, flowError(MsgSaveFailed, err)
	}

	sess := session.New(profile.ProviderSubjectID, now, s.opts.SessionTTL)
	if err := s.sessions.Create(ctx, sess); err != nil {
		s.logger.Error("creating session failed", "error", err)
		return nil, flowError(MsgSessionFailed, err)
	}
	cookie, err := s.tokens.IssueSession(sess)
	if err != nil {
		_ = s.sessions.Delete(ctx, sess.ID)
		return nil, flowError(MsgSessionFailed, err)
	}

	s.revokePrevious(ctx, p.Previous, sess.ID)

	s.logger.Info("member signed in",
		"subject", profile.ProviderSubjectID,
		"session", sess.ID,
	)

	return &SignInResult{
		Profile:       profile,
		Session:       sess,
		SessionCookie: cookie,
	}, nil
}

func (s *AuthService) revokePrevious(ctx context.Context, prev *auth.SessionToken, current string) {
	if prev == nil || prev.SessionID == "" || prev.SessionID == current {
		return
	}
	if err := s.sessions.Delete(ctx, prev.SessionID); err != nil {
		s.logger.Warn("revoking previous session failed",
			"session", prev.SessionID,
			"error", err,
		)
	}
}

func (s *AuthService) verifyState(p CallbackParams) error {
	if p.StateCookie == "" {
		return apperror.Unauthorized("state cookie missing")
	}
	expected, err := s.tokens.ParseState(p.StateCookie)
	if err != nil {
		return err
	}
	if !auth.StatesEqual(expected, p.State) {
		return apperror.Unauthorized("state mismatch")
	}
	return nil
}

func (s *AuthService) verifyIDToken(ctx context.Context, raw string) (*auth.IDClaims, error) {
	if s.verifier == nil {
		return nil, nil
	}
	if raw == "" {
		s.logger.Debug("token response carried no id_token")
		return nil, nil
	}
	return s.verifier.Verify(ctx, raw)
}

// MarkSignedIn flags the caller's profile as signed in and stamps
// lastSignInAt. subjectID is empty for an anonymous caller.
func (s *AuthService) MarkSignedIn(ctx context.Context, subjectID string) error {
	subjectID, err := s.resolveSubject(ctx, subjectID, false)
	if err != nil {
		return err
	}
	if err := s.profiles.MarkSignedIn(ctx, subjectID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthorized(MsgNoProfile)
		}
		return err
	}
	return nil
}

// SignOut revokes sess (if any), flags the profile signed out and returns
// where the browser goes next.
func (s *AuthService) SignOut(ctx context.Context, sess *auth.SessionToken) (string, error) {
	subjectID := ""
	if sess != nil {
		if err := s.sessions.Delete(ctx, sess.SessionID); err != nil {
			s.logger.Error("revoking session failed", "error", err)
			return "", flowError(MsgSignOutFailed, err)
		}
		subjectID = sess.SubjectID
	}

	subjectID, err := s.resolveSubject(ctx, subjectID, true)
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		// Nobody to sign out.
	case err != nil:
		return "", flowError(MsgSignOutFailed, err)
	default:
		err := s.profiles.MarkSignedOut(ctx, subjectID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("marking profile signed out failed",
				"subject", subjectID,
				"error", err,
			)
			return "", flowError(MsgSignOutFailed, err)
		}
		s.logger.Info("member signed out", "subject", subjectID)
	}

	if s.opts.SignOutViaProvider {
		return s.provider.SignOutURL(), nil
	}
	return "", nil
}

// CurrentProfile returns the caller's stored profile refreshed with a live
// LinkedIn fetch. If the live fetch fails, the stored record is returned.
func (s *AuthService) CurrentProfile(ctx context.Context, subjectID string) (*model.Profile, error) {
	subjectID, err := s.resolveSubject(ctx, subjectID, true)
	if err != nil {
		return nil, err
	}

	stored, err := s.profiles.GetBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(MsgNoProfile)
		}
		return nil, err
	}
	if stored.AccessToken == "" {
		return nil, apperror.Unauthorized(MsgNoAccessToken)
	}

	if !stored.TokenExpiresAt.IsZero() && s.now().After(stored.TokenExpiresAt) {
		s.logger.Info("stored access token expired, serving stored profile",
			"subject", subjectID,
		)
		return stored, nil
	}

	live, err := s.provider.FetchProfile(ctx, stored.AccessToken)
	if err != nil {
		s.logger.Warn("live profile fetch failed, serving stored profile",
			"subject", subjectID,
			"error", err,
		)
		return stored, nil
	}

	merged := stored.MergeLive(live)
	return &merged, nil
}

// resolveSubject maps the caller to a subject id. An anonymous caller is
// Unauthorized unless single-tenant mode resolves it to the latest profile.
// With signedInOnly, a latest profile that has signed out does not count.
func (s *AuthService) resolveSubject(ctx context.Context, subjectID string, signedInOnly bool) (string, error) {
	if subjectID != "" {
		return subjectID, nil
	}
	if !s.opts.SingleTenant {
		return "", apperror.Unauthorized(MsgNoProfile)
	}

	latest, err := s.profiles.Latest(ctx)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.Unauthorized(MsgNoProfile)
		}
		return "", err
	}
	if signedInOnly && latest.IsSignedOut {
		return "", apperror.Unauthorized(MsgNoProfile)
	}
	return latest.ProviderSubjectID, nil
}
