package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/auth"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
	"github.com/sakif/linkedin-profile-viewer/internal/session"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeProvider plays LinkedIn. Codes are single-use.
type fakeProvider struct {
	mu         sync.Mutex
	codes      map[string]*model.Profile
	profiles   map[string]*model.Profile // by access token
	idTokenSub string
	fetchErr   error
	fetchCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		codes:    make(map[string]*model.Profile),
		profiles: make(map[string]*model.Profile),
	}
}

func (f *fakeProvider) addCode(code string, p *model.Profile) {
	f.codes[code] = p
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://linkedin.example/authorize?state=" + state
}

func (f *fakeProvider) SignOutURL() string {
	return "https://linkedin.example/logout"
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*auth.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.codes[code]
	if !ok {
		return nil, apperror.UpstreamRejected("token exchange", 400, errors.New("invalid_grant"))
	}
	delete(f.codes, code)
	token := "at-" + code
	f.profiles[token] = p
	return &auth.TokenSet{
		AccessToken:  token,
		RefreshToken: "rt-" + code,
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour),
		IDToken:      "id-" + code,
	}, nil
}

func (f *fakeProvider) FetchProfile(_ context.Context, accessToken string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, apperror.UpstreamRejected("fetch userinfo", 401, nil)
	}
	copied := *p
	return &copied, nil
}

// fakeVerifier accepts any id_token and reports sub.
type fakeVerifier struct {
	sub string
	err error
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*auth.IDClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.IDClaims{Subject: f.sub}, nil
}

// fakeProfileRepo is an in-memory repository.ProfileRepository.
type fakeProfileRepo struct {
	mu        sync.Mutex
	bySubject map[string]*model.Profile
	order     []string // subjects in creation order
	writes    int
	upsertErr error
	markErr   error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{bySubject: make(map[string]*model.Profile)}
}

func (f *fakeProfileRepo) Upsert(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.writes++
	now := time.Now()
	existing, ok := f.bySubject[p.ProviderSubjectID]
	if ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
		f.order = append(f.order, p.ProviderSubjectID)
	}
	p.UpdatedAt = now
	copied := *p
	copied.Positions = nil
	f.bySubject[p.ProviderSubjectID] = &copied
	return nil
}

func (f *fakeProfileRepo) GetBySubject(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.bySubject[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	copied := *p
	return &copied, nil
}

func (f *fakeProfileRepo) Latest(_ context.Context) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return nil, apperror.NotFound("profile", "latest")
	}
	copied := *f.bySubject[f.order[len(f.order)-1]]
	return &copied, nil
}

func (f *fakeProfileRepo) MarkSignedIn(_ context.Context, id string) error {
	return f.mark(id, true)
}

func (f *fakeProfileRepo) MarkSignedOut(_ context.Context, id string) error {
	return f.mark(id, false)
}

func (f *fakeProfileRepo) mark(id string, in bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	p, ok := f.bySubject[id]
	if !ok {
		return apperror.NotFound("profile", id)
	}
	f.writes++
	p.IsSignedIn = in
	p.IsSignedOut = !in
	if in {
		now := time.Now()
		p.LastSignInAt = &now
	}
	return nil
}

type testEnv struct {
	svc      *AuthService
	provider *fakeProvider
	verifier *fakeVerifier
	repo     *fakeProfileRepo
	sessions *session.MemoryStore
	tokens   *auth.TokenService
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret-that-is-at-least-32-chars!")
	require.NoError(t, err)

	env := &testEnv{
		provider: newFakeProvider(),
		verifier: &fakeVerifier{},
		repo:     newFakeProfileRepo(),
		sessions: session.NewMemoryStore(),
		tokens:   tokens,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewAuthService(env.provider, env.verifier, env.repo, env.sessions, tokens, opts, logger)
	return env
}

func member(sub string) *model.Profile {
	return &model.Profile{
		ProviderSubjectID: sub,
		GivenName:         "Ada",
		FamilyName:        "Lovelace",
		Email:             sub + "@example.com",
		EmailVerified:     true,
		Positions:         []model.Position{{Title: "Analyst"}},
	}
}

// callback starts a sign-in and returns matching callback params for code.
func (e *testEnv) callback(t *testing.T, code string) CallbackParams {
	t.Helper()
	start, err := e.svc.BeginSignIn()
	require.NoError(t, err)
	state, err := e.tokens.ParseState(start.StateCookie)
	require.NoError(t, err)
	return CallbackParams{Code: code, State: state, StateCookie: start.StateCookie}
}

func (e *testEnv) signIn(t *testing.T, sub string) *SignInResult {
	t.Helper()
	code := "code-" + sub
	e.provider.addCode(code, member(sub))
	e.verifier.sub = sub
	res, err := e.svc.CompleteSignIn(context.Background(), e.callback(t, code))
	require.NoError(t, err)
	return res
}

func requireFlowError(t *testing.T, err error, msg string) *FlowError {
	t.Helper()
	var fe *FlowError
	require.True(t, errors.As(err, &fe), "want *FlowError, got %T: %v", err, err)
	assert.Equal(t, msg, fe.UserMessage)
	return fe
}

// =========================================================================
// BEGIN SIGN-IN TESTS
// =========================================================================

func TestBeginSignIn(t *testing.T) {
	env := newTestEnv(t, Options{})

	start, err := env.svc.BeginSignIn()
	require.NoError(t, err)

	state, err := env.tokens.ParseState(start.StateCookie)
	require.NoError(t, err)
	assert.Contains(t, start.URL, "state="+state)
	assert.WithinDuration(t, time.Now().Add(auth.StateTTL), start.StateExpiresAt, time.Minute)

	again, err := env.svc.BeginSignIn()
	require.NoError(t, err)
	assert.NotEqual(t, start.URL, again.URL, "every sign-in gets a fresh state")
}

// =========================================================================
// CALLBACK TESTS
// =========================================================================

func TestCompleteSignIn_Success(t *testing.T) {
	env := newTestEnv(t, Options{SessionTTL: time.Hour})

	res := env.signIn(t, "u1")

	assert.Equal(t, "u1", res.Profile.ProviderSubjectID)
	assert.Equal(t, "u1", res.Session.SubjectID)

	stored, err := env.repo.GetBySubject(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at-code-u1", stored.AccessToken)
	assert.Equal(t, "rt-code-u1", stored.RefreshToken)
	assert.True(t, stored.IsSignedIn)
	assert.NotNil(t, stored.LastSignInAt)
	assert.Empty(t, stored.Positions, "positions are never persisted")

	tok, err := env.tokens.ParseSession(res.SessionCookie)
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.SubjectID)
	assert.Equal(t, res.Session.ID, tok.SessionID)

	live, err := env.sessions.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, live)
}

func TestCompleteSignIn_RepeatSignInUpdatesSameRecord(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.signIn(t, "u1")
	env.signIn(t, "u1")

	assert.Len(t, env.repo.bySubject, 1)
	assert.Len(t, env.repo.order, 1)
}

func TestCompleteSignIn_ProviderError(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.CompleteSignIn(context.Background(), CallbackParams{Error: "access_denied"})

	requireFlowError(t, err, "access_denied")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	assert.Zero(t, env.repo.writes, "no storage writes")
}

func TestCompleteSignIn_StateChecks(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	valid := env.callback(t, "ABC123")

	tests := map[string]CallbackParams{
		"missing cookie": {Code: "ABC123", State: valid.State},
		"forged cookie":  {Code: "ABC123", State: valid.State, StateCookie: "forged"},
		"state mismatch": {Code: "ABC123", State: "other", StateCookie: valid.StateCookie},
		"missing state":  {Code: "ABC123", StateCookie: valid.StateCookie},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.CompleteSignIn(context.Background(), params)

			requireFlowError(t, err, MsgInvalidState)
			assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
		})
	}
	assert.Zero(t, env.repo.writes)
}

func TestCompleteSignIn_MissingCode(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, ""))

	requireFlowError(t, err, MsgMissingCode)
	assert.Zero(t, env.repo.writes)
}

func TestCompleteSignIn_ExchangeFailure(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, "unknown-code"))

	requireFlowError(t, err, MsgAuthFailed)
	assert.True(t, errors.Is(err, apperror.ErrUpstreamRejected))
	assert.Zero(t, env.repo.writes)
}

func TestCompleteSignIn_IDTokenRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	env.verifier.err = apperror.Unauthorized("bad signature")

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, "ABC123"))

	requireFlowError(t, err, MsgAuthFailed)
	assert.Zero(t, env.repo.writes)
}

func TestCompleteSignIn_IDTokenSubjectMismatch(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	env.verifier.sub = "someone-else"

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, "ABC123"))

	requireFlowError(t, err, MsgAuthFailed)
	assert.Zero(t, env.repo.writes)
}

func TestCompleteSignIn_ProfileFetchFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	env.verifier.sub = "u1"
	env.provider.fetchErr = apperror.UpstreamRejected("fetch userinfo", 500, nil)

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, "ABC123"))

	requireFlowError(t, err, MsgFetchFailed)
	assert.Zero(t, env.repo.writes, "no profile persisted")
}

func TestCompleteSignIn_StorageFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	env.verifier.sub = "u1"
	env.repo.upsertErr = apperror.StorageUnavailable("upsert profile", errors.New("connection refused"))

	_, err := env.svc.CompleteSignIn(context.Background(), env.callback(t, "ABC123"))

	requireFlowError(t, err, MsgSaveFailed)
	assert.True(t, errors.Is(err, apperror.ErrStorageUnavailable))
}

func TestCompleteSignIn_IgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.provider.addCode("ABC123", member("u1"))
	env.verifier.sub = "u1"
	params := env.callback(t, "ABC123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.CompleteSignIn(ctx, params)
	require.NoError(t, err)
}

// =========================================================================
// MARK SIGNED-IN / SIGN-OUT TESTS
// =========================================================================

func TestMarkSignedIn(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.signIn(t, "u1")
	require.NoError(t, env.repo.MarkSignedOut(context.Background(), "u1"))

	require.NoError(t, env.svc.MarkSignedIn(context.Background(), "u1"))

	p, _ := env.repo.GetBySubject(context.Background(), "u1")
	assert.True(t, p.IsSignedIn)
	assert.False(t, p.IsSignedOut)
}

func TestMarkSignedIn_Anonymous(t *testing.T) {
	env := newTestEnv(t, Options{})

	err := env.svc.MarkSignedIn(context.Background(), "")

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestMarkSignedIn_StorageFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.signIn(t, "u1")
	env.repo.markErr = apperror.StorageUnavailable("mark signed in", errors.New("down"))

	err := env.svc.MarkSignedIn(context.Background(), "u1")

	assert.True(t, errors.Is(err, apperror.ErrStorageUnavailable))
}

func TestSignOut_RevokesSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	res := env.signIn(t, "u1")
	tok, err := env.tokens.ParseSession(res.SessionCookie)
	require.NoError(t, err)

	next, err := env.svc.SignOut(context.Background(), &tok)
	require.NoError(t, err)
	assert.Empty(t, next, "default sign-out stays in the application")

	live, err := env.sessions.Get(context.Background(), tok.SessionID)
	require.NoError(t, err)
	assert.Nil(t, live)

	p, _ := env.repo.GetBySubject(context.Background(), "u1")
	assert.True(t, p.IsSignedOut)
	assert.False(t, p.IsSignedIn)
}

func TestSignOut_ViaProvider(t *testing.T) {
	env := newTestEnv(t, Options{SignOutViaProvider: true})

	next, err := env.svc.SignOut(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, "https://linkedin.example/logout", next)
}

func TestSignOut_StorageFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	res := env.signIn(t, "u1")
	tok, _ := env.tokens.ParseSession(res.SessionCookie)
	env.repo.markErr = apperror.StorageUnavailable("mark signed out", errors.New("down"))

	_, err := env.svc.SignOut(context.Background(), &tok)

	requireFlowError(t, err, MsgSignOutFailed)
}

// =========================================================================
// CURRENT PROFILE TESTS
// =========================================================================

func TestCurrentProfile_MergesLiveFetch(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.signIn(t, "u1")
	env.provider.profiles["at-code-u1"].GivenName = "Augusta"

	p, err := env.svc.CurrentProfile(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "Augusta", p.GivenName)
	assert.Len(t, p.Positions, 1, "positions come from the live fetch")
	assert.Equal(t, "at-code-u1", p.AccessToken, "tokens stay on the model; the handler strips them")
}

func TestCurrentProfile_FallsBackToStored(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.signIn(t, "u1")
	env.provider.fetchErr = apperror.Network("fetch userinfo", context.DeadlineExceeded)

	p, err := env.svc.CurrentProfile(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "Ada", p.GivenName)
	assert.Empty(t, p.Positions)
}

func TestCurrentProfile_ExpiredTokenSkipsLiveFetch(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.signIn(t, "u1")
	env.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	calls := env.provider.fetchCalls

	_, err := env.svc.CurrentProfile(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, calls, env.provider.fetchCalls)
}

func TestCurrentProfile_Unauthorized(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.CurrentProfile(context.Background(), "")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))

	_, err = env.svc.CurrentProfile(context.Background(), "ghost")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestCurrentProfile_MissingAccessToken(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.repo.Upsert(context.Background(), &model.Profile{ProviderSubjectID: "u1"}))

	_, err := env.svc.CurrentProfile(context.Background(), "u1")

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	assert.Contains(t, err.Error(), MsgNoAccessToken)
}

func TestCurrentProfile_SingleTenantUsesLatest(t *testing.T) {
	env := newTestEnv(t, Options{SingleTenant: true})

	_, err := env.svc.CurrentProfile(context.Background(), "")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "empty store")

	env.signIn(t, "u1")
	env.signIn(t, "u2")

	p, err := env.svc.CurrentProfile(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u2", p.ProviderSubjectID)
}

func TestCurrentProfile_SingleTenantAfterSignOut(t *testing.T) {
	env := newTestEnv(t, Options{SingleTenant: true})
	env.signIn(t, "u1")

	_, err := env.svc.SignOut(context.Background(), nil)
	require.NoError(t, err)

	_, err = env.svc.CurrentProfile(context.Background(), "")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "got %v", err)

	require.NoError(t, env.svc.MarkSignedIn(context.Background(), ""), "signing back in still resolves the latest profile")
	p, err := env.svc.CurrentProfile(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ProviderSubjectID)
}

func TestCompleteSignIn_RevokesPreviousSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	first := env.signIn(t, "u1")
	prev, err := env.tokens.ParseSession(first.SessionCookie)
	require.NoError(t, err)

	env.provider.addCode("again", member("u1"))
	params := env.callback(t, "again")
	params.Previous = &prev
	second, err := env.svc.CompleteSignIn(context.Background(), params)
	require.NoError(t, err)

	old, err := env.sessions.Get(context.Background(), prev.SessionID)
	require.NoError(t, err)
	assert.Nil(t, old, "previous session revoked")

	current, err := env.sessions.Get(context.Background(), second.Session.ID)
	require.NoError(t, err)
	assert.NotNil(t, current)
}
