package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/session"
)

// --- モック定義 ---

type mockBuilder struct {
	buildFn func() (*AuthenticationRequest, error)
}

func (m *mockBuilder) Build() (*AuthenticationRequest, error) {
	if m.buildFn != nil {
		return m.buildFn()
	}
	return &AuthenticationRequest{State: "state-1", Nonce: "nonce-1", URL: "https://idp.example.com/auth"}, nil
}

type mockExchanger struct {
	calls      int
	exchangeFn func(ctx context.Context, code string) (string, error)
}

func (m *mockExchanger) Exchange(ctx context.Context, code string) (string, error) {
	m.calls++
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return "id-token", nil
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, raw, nonce string) (*IDTokenClaims, error)
}

func (m *mockVerifier) Verify(ctx context.Context, raw, nonce string) (*IDTokenClaims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, raw, nonce)
	}
	c := &IDTokenClaims{Nonce: nonce}
	c.Subject = "abc"
	return c, nil
}

type mockResolver struct {
	resolveFn func(ctx context.Context, subject string) (*model.User, error)
}

func (m *mockResolver) Resolve(ctx context.Context, subject string) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, subject)
	}
	return &model.User{ID: 1}, nil
}

type recordingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	signins []string
}

func (m *recordingMetrics) RecordSignin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signins = append(m.signins, outcome)
}

type serviceFixture struct {
	svc       *Service
	exchanger *mockExchanger
	verifier  *mockVerifier
	resolver  *mockResolver
	metrics   *recordingMetrics
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		exchanger: &mockExchanger{},
		verifier:  &mockVerifier{},
		resolver:  &mockResolver{},
		metrics:   &recordingMetrics{},
	}
	f.svc = NewService(&mockBuilder{}, f.exchanger, f.verifier, f.resolver, f.metrics)
	return f
}

// startedSession はサインイン開始済みのセッションを返す。
func startedSession() *session.Session {
	return session.Restore("sid", map[string]string{
		session.KeyState: "state-1",
		session.KeyNonce: "nonce-1",
	})
}

func assertCeremonyCleared(t *testing.T, sess *session.Session) {
	t.Helper()
	if _, ok := sess.Get(session.KeyState); ok {
		t.Error("state should be removed from session")
	}
	if _, ok := sess.Get(session.KeyNonce); ok {
		t.Error("nonce should be removed from session")
	}
}

// --- テスト ---

func TestService_BeginSignIn_StoresStateAndNonce(t *testing.T) {
	f := newServiceFixture()
	sess := session.New()

	authURL, err := f.svc.BeginSignIn(sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authURL != "https://idp.example.com/auth" {
		t.Errorf("url = %q", authURL)
	}
	if v, _ := sess.Get(session.KeyState); v != "state-1" {
		t.Errorf("state = %q, want %q", v, "state-1")
	}
	if v, _ := sess.Get(session.KeyNonce); v != "nonce-1" {
		t.Errorf("nonce = %q, want %q", v, "nonce-1")
	}
}

func TestService_BeginSignIn_BuildError(t *testing.T) {
	svc := NewService(&mockBuilder{
		buildFn: func() (*AuthenticationRequest, error) { return nil, errors.New("rng failure") },
	}, &mockExchanger{}, &mockVerifier{}, &mockResolver{}, nil)
	sess := session.New()

	if _, err := svc.BeginSignIn(sess); err == nil {
		t.Fatal("expected error")
	}
	if sess.Modified() {
		t.Error("session should not be modified on failure")
	}
}

func TestService_CompleteSignIn_Success(t *testing.T) {
	f := newServiceFixture()
	var gotNonce string
	f.verifier.verifyFn = func(_ context.Context, _ string, nonce string) (*IDTokenClaims, error) {
		gotNonce = nonce
		c := &IDTokenClaims{}
		c.Subject = "abc"
		return c, nil
	}
	sess := startedSession()

	user, err := f.svc.CompleteSignIn(context.Background(), sess, CallbackParams{Code: "code", State: "state-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 1 {
		t.Errorf("user ID = %d, want 1", user.ID)
	}
	if gotNonce != "nonce-1" {
		t.Errorf("verifier nonce = %q, want %q", gotNonce, "nonce-1")
	}
	if v, _ := sess.Get(session.KeyUserID); v != "1" {
		t.Errorf("user_id = %q, want %q", v, "1")
	}
	if !sess.RenewRequested() {
		t.Error("session id should be regenerated on sign-in")
	}
	assertCeremonyCleared(t, sess)
	if len(f.metrics.signins) != 1 || f.metrics.signins[0] != metrics.SigninSuccess {
		t.Errorf("signins = %v, want [success]", f.metrics.signins)
	}
}

func TestService_CompleteSignIn_Rejections(t *testing.T) {
	tests := []struct {
		name          string
		params        CallbackParams
		sess          func() *session.Session
		setup         func(f *serviceFixture)
		wantErr       error
		wantExchanged bool
	}{
		{
			name:    "tampered state",
			params:  CallbackParams{Code: "code", State: "tampered"},
			sess:    startedSession,
			wantErr: model.ErrCsrfMismatch,
		},
		{
			name:    "single character mutation",
			params:  CallbackParams{Code: "code", State: "state-2"},
			sess:    startedSession,
			wantErr: model.ErrCsrfMismatch,
		},
		{
			name:    "no ceremony in session",
			params:  CallbackParams{Code: "code", State: "state-1"},
			sess:    session.New,
			wantErr: model.ErrCsrfMismatch,
		},
		{
			name:    "provider error",
			params:  CallbackParams{Code: "code", State: "state-1", Error: "access_denied"},
			sess:    startedSession,
			wantErr: model.ErrMissingCredential,
		},
		{
			name:    "code missing",
			params:  CallbackParams{State: "state-1"},
			sess:    startedSession,
			wantErr: model.ErrMissingCredential,
		},
		{
			name:    "state missing",
			params:  CallbackParams{Code: "code"},
			sess:    startedSession,
			wantErr: model.ErrMissingCredential,
		},
		{
			name:   "token exchange fails",
			params: CallbackParams{Code: "code", State: "state-1"},
			sess:   startedSession,
			setup: func(f *serviceFixture) {
				f.exchanger.exchangeFn = func(context.Context, string) (string, error) {
					return "", model.ErrTokenExchangeFailed
				}
			},
			wantErr:       model.ErrTokenExchangeFailed,
			wantExchanged: true,
		},
		{
			name:   "id token invalid",
			params: CallbackParams{Code: "code", State: "state-1"},
			sess:   startedSession,
			setup: func(f *serviceFixture) {
				f.verifier.verifyFn = func(context.Context, string, string) (*IDTokenClaims, error) {
					return nil, model.ErrInvalidIDToken
				}
			},
			wantErr:       model.ErrInvalidIDToken,
			wantExchanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			sess := tt.sess()

			_, err := f.svc.CompleteSignIn(context.Background(), sess, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, model.ErrInternalFailure) {
				t.Error("authentication failure must not be internal")
			}
			if (f.exchanger.calls > 0) != tt.wantExchanged {
				t.Errorf("exchanger calls = %d, want exchanged=%v", f.exchanger.calls, tt.wantExchanged)
			}
			assertCeremonyCleared(t, sess)
			if _, ok := sess.Get(session.KeyUserID); ok {
				t.Error("user_id must not be set on failure")
			}
			if len(f.metrics.signins) != 1 || f.metrics.signins[0] != metrics.SigninUnauthorized {
				t.Errorf("signins = %v, want [unauthorized]", f.metrics.signins)
			}
		})
	}
}

func TestService_CompleteSignIn_ResolverInfraFailure_IsInternal(t *testing.T) {
	f := newServiceFixture()
	f.resolver.resolveFn = func(context.Context, string) (*model.User, error) {
		return nil, model.Internal(model.ErrUserResolutionFailed, errors.New("db down"))
	}
	sess := startedSession()

	_, err := f.svc.CompleteSignIn(context.Background(), sess, CallbackParams{Code: "code", State: "state-1"})
	if !errors.Is(err, model.ErrInternalFailure) {
		t.Fatalf("err = %v, want ErrInternalFailure", err)
	}
	assertCeremonyCleared(t, sess)
	if len(f.metrics.signins) != 1 || f.metrics.signins[0] != metrics.SigninError {
		t.Errorf("signins = %v, want [error]", f.metrics.signins)
	}
}

func TestService_CompleteSignIn_Replay_Rejected(t *testing.T) {
	f := newServiceFixture()
	sess := startedSession()
	params := CallbackParams{Code: "code", State: "state-1"}

	if _, err := f.svc.CompleteSignIn(context.Background(), sess, params); err != nil {
		t.Fatalf("first callback: unexpected error: %v", err)
	}

	_, err := f.svc.CompleteSignIn(context.Background(), sess, params)
	if !errors.Is(err, model.ErrCsrfMismatch) {
		t.Errorf("replay err = %v, want ErrCsrfMismatch", err)
	}
	if f.exchanger.calls != 1 {
		t.Errorf("exchanger calls = %d, want 1", f.exchanger.calls)
	}
}

func TestService_SignOut_ClearsAndRenews(t *testing.T) {
	f := newServiceFixture()
	sess := session.Restore("sid", map[string]string{session.KeyUserID: "1"})

	f.svc.SignOut(sess)

	if !sess.Empty() {
		t.Error("session should be empty")
	}
	if !sess.RenewRequested() {
		t.Error("session id should be regenerated")
	}
}

// 実コンポーネントと偽IdPを使った一連のサインイン
func TestGoogleService_SignInFlow_EndToEnd(t *testing.T) {
	idp := newFakeIdP(t)
	var gotSubject string
	repo := &mockIdentityRepo{
		findOrCreateUserFn: func(_ context.Context, provider, subject string) (*model.User, error) {
			gotSubject = subject
			return &model.User{ID: 1, CreatedAt: time.Now()}, nil
		},
	}
	svc := NewGoogleService(idp.config(), repo, nil)
	sess := session.New()

	authURL, err := svc.BeginSignIn(sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	q := u.Query()
	if q.Get("scope") != "openid email" {
		t.Errorf("scope = %q, want %q", q.Get("scope"), "openid email")
	}
	state, _ := sess.Get(session.KeyState)
	nonce, _ := sess.Get(session.KeyNonce)
	if q.Get("state") != state || q.Get("nonce") != nonce {
		t.Error("authorization url must carry the session's state and nonce")
	}

	idp.issueFor(nonce)
	user, err := svc.CompleteSignIn(context.Background(), sess, CallbackParams{Code: "auth-code", State: state})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 1 || gotSubject != "abc" {
		t.Errorf("user = %d (subject %q), want 1 (abc)", user.ID, gotSubject)
	}
	if v, _ := sess.Get(session.KeyUserID); v != "1" {
		t.Errorf("user_id = %q, want %q", v, "1")
	}
	if idp.jwksHits.Load() != 1 {
		t.Errorf("jwks hits = %d, want 1", idp.jwksHits.Load())
	}
}

func TestGoogleService_SignInFlow_NonceMismatch_Rejected(t *testing.T) {
	idp := newFakeIdP(t)
	svc := NewGoogleService(idp.config(), &mockIdentityRepo{}, nil)
	sess := session.New()

	if _, err := svc.BeginSignIn(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := sess.Get(session.KeyState)

	idp.issueFor("nonce-from-another-ceremony")
	_, err := svc.CompleteSignIn(context.Background(), sess, CallbackParams{Code: "auth-code", State: state})
	if !errors.Is(err, model.ErrInvalidIDToken) {
		t.Errorf("err = %v, want ErrInvalidIDToken", err)
	}
	assertCeremonyCleared(t, sess)
}
