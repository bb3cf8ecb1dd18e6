package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/testutil"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

func newManager(t *testing.T, srv *testutil.AuthServer, actor tokenstore.ActorKind, store tokenstore.Store, interval time.Duration) *Manager {
	t.Helper()
	if store == nil {
		store = tokenstore.NewMemory()
	}
	m, err := New(Options{
		Actor:           actor,
		Store:           store,
		Client:          apiclient.Options{BaseURL: srv.URL},
		RefreshInterval: interval,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func login(t *testing.T, m *Manager) Session {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	sess, err := m.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return sess
}

func TestManager_LoginStoresSession(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)

	sess := login(t, m)
	if sess.ActorName != "alice" || sess.ActorID != "7" {
		t.Errorf("session identity = %q/%q", sess.ActorID, sess.ActorName)
	}
	if sess.ExpiresAt.IsZero() || time.Until(sess.ExpiresAt) < 14*time.Minute {
		t.Errorf("ExpiresAt = %v, want ~15m from now", sess.ExpiresAt)
	}
	if m.State() != Authenticated {
		t.Errorf("state = %s", m.State())
	}

	pair, ok := store.Get(tokenstore.User)
	if !ok || pair.AccessToken != sess.AccessToken || pair.RefreshToken != sess.RefreshToken {
		t.Errorf("stored pair %+v does not match session", pair)
	}
	if id, ok := store.Identity(tokenstore.User); !ok || id.ActorName != "alice" {
		t.Errorf("stored identity = %+v, %v", id, ok)
	}
	if _, ok := store.Get(tokenstore.Admin); ok {
		t.Error("user login must not touch the admin namespace")
	}
}

func TestManager_LoginRejected(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, -1)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := m.Login(ctx, "alice", "wrong")
	if !apiclient.IsKind(err, apiclient.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if m.State() != Anonymous {
		t.Errorf("state = %s, want anonymous", m.State())
	}

	_, err = m.Login(ctx, "", "pw")
	if !apiclient.IsKind(err, apiclient.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if apiclient.FieldErrors(err)["username"] == "" {
		t.Error("missing username should be reported as a field error")
	}
}

// An expired access token is refreshed once and the retried call returns
// the endpoint's data with the new token.
func TestManager_ExpiredTokenRetriedAfterRefresh(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	first := login(t, m)

	srv.ExpireAccessTokens()

	ctx, cancel := testutil.TestContext()
	defer cancel()

	var out struct {
		Data string `json:"data"`
	}
	if err := m.Client().GetJSON(ctx, "/data", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Data != "secret-for-alice" {
		t.Errorf("data = %q", out.Data)
	}
	if n := srv.RefreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := srv.DataCalls.Load(); n != 1 {
		t.Errorf("successful data calls = %d, want 1", n)
	}

	pair, _ := store.Get(tokenstore.User)
	if pair.AccessToken == first.AccessToken {
		t.Error("store should hold the refreshed access token")
	}
	sess, ok := m.Session()
	if !ok || sess.AccessToken != pair.AccessToken {
		t.Error("in-memory session should follow the refreshed token")
	}
}

func TestManager_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	srv.RefreshDelay = 50 * time.Millisecond
	m := newManager(t, srv, tokenstore.User, nil, -1)
	login(t, m)

	srv.ExpireAccessTokens()

	ctx, cancel := testutil.TestContext()
	defer cancel()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Client().GetJSON(ctx, "/data", nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("request failed: %v", err)
		}
	}
	if got := srv.RefreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", got)
	}
	if got := srv.DataCalls.Load(); got != n {
		t.Errorf("data calls = %d, want %d", got, n)
	}
}

func TestManager_FailedRefreshesEndInAnonymous(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	notifier := &testutil.RecordingNotifier{}
	m, err := New(Options{
		Store:           store,
		Client:          apiclient.Options{BaseURL: srv.URL},
		RefreshInterval: -1,
		Notifier:        notifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	login(t, m)

	srv.ExpireAccessTokens()
	srv.SetRefreshFailure(true)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := m.Refresh(ctx); err == nil {
		t.Fatal("first refresh should fail")
	}
	if _, err := m.Refresh(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("second refresh should report no session, got %v", err)
	}

	if m.State() != Anonymous {
		t.Errorf("state = %s, want anonymous", m.State())
	}
	if _, ok := store.Get(tokenstore.User); ok {
		t.Error("token store should be empty")
	}
	if _, ok := m.Session(); ok {
		t.Error("no session should remain")
	}
	if notifier.ExpiredCount() != 1 {
		t.Errorf("notifier saw %d expirations, want 1", notifier.ExpiredCount())
	}
}

func TestManager_RequestAfterRefreshFailureIsAuthExpired(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	login(t, m)

	srv.ExpireAccessTokens()
	srv.SetRefreshFailure(true)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := m.Client().GetJSON(ctx, "/data", nil)
	if !apiclient.IsKind(err, apiclient.KindAuthExpired) {
		t.Fatalf("expected auth_expired, got %v", err)
	}
	if m.State() != Anonymous {
		t.Errorf("state = %s", m.State())
	}
	if _, ok := store.Get(tokenstore.User); ok {
		t.Error("token store should be empty")
	}
}

func TestManager_LogoutClearsStoreEvenWhenServerFails(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	login(t, m)

	srv.SetLogoutFailure(true)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := m.Logout(ctx)
	if !apiclient.IsKind(err, apiclient.KindServer) {
		t.Errorf("Logout should report the server failure, got %v", err)
	}
	if _, ok := store.Get(tokenstore.User); ok {
		t.Error("token store should be cleared")
	}
	if _, ok := store.Identity(tokenstore.User); ok {
		t.Error("identity should be cleared")
	}
	if m.State() != Anonymous {
		t.Errorf("state = %s", m.State())
	}
	if srv.LogoutCalls.Load() != 1 {
		t.Errorf("logout calls = %d", srv.LogoutCalls.Load())
	}
}

// clearGate blocks inside Clear, after the wrapped store is cleared, until
// release is closed or a short grace period passes.
type clearGate struct {
	tokenstore.Store
	once     sync.Once
	clearing chan struct{}
	release  <-chan struct{}
}

func (g *clearGate) Clear(kind tokenstore.ActorKind) {
	g.Store.Clear(kind)
	g.once.Do(func() {
		close(g.clearing)
		select {
		case <-g.release:
		case <-time.After(200 * time.Millisecond):
		}
	})
}

// A refresh response arriving while Logout clears the store must not write
// the rotated pair back.
func TestManager_LogoutWinsOverInFlightRefresh(t *testing.T) {
	srv := testutil.NewAuthServer(t)

	refreshing := make(chan struct{})
	holdRefresh := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	releaseRefresh := func() { releaseOnce.Do(func() { close(holdRefresh) }) }
	t.Cleanup(releaseRefresh)
	srv.OnRefresh = func() {
		enterOnce.Do(func() { close(refreshing) })
		<-holdRefresh
	}

	refreshed := make(chan struct{})
	store := &clearGate{Store: tokenstore.NewMemory(), clearing: make(chan struct{}), release: refreshed}
	m := newManager(t, srv, tokenstore.User, store, -1)
	login(t, m)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	var refreshErr error
	go func() {
		defer close(refreshed)
		_, refreshErr = m.Refresh(ctx)
	}()
	select {
	case <-refreshing:
	case <-time.After(3 * time.Second):
		t.Fatal("refresh never reached the server")
	}

	logoutDone := make(chan error, 1)
	go func() { logoutDone <- m.Logout(ctx) }()
	select {
	case <-store.clearing:
	case <-time.After(3 * time.Second):
		t.Fatal("logout never cleared the store")
	}
	releaseRefresh()

	select {
	case err := <-logoutDone:
		if err != nil {
			t.Errorf("Logout failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("logout did not return")
	}
	select {
	case <-refreshed:
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not return")
	}

	if refreshErr == nil {
		t.Error("a refresh overtaken by logout should fail")
	}
	if pair, ok := store.Get(tokenstore.User); ok {
		t.Errorf("token store holds %+v after logout", pair)
	}
	if m.State() != Anonymous {
		t.Errorf("state = %s, want anonymous", m.State())
	}
}

func TestManager_LogoutWhenServerUnreachable(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	login(t, m)

	srv.Close()

	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := m.Logout(ctx); !apiclient.IsKind(err, apiclient.KindNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
	if _, ok := store.Get(tokenstore.User); ok {
		t.Error("token store should be cleared")
	}
}

func TestManager_AutoRefreshStopsAfterLogout(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, 20*time.Millisecond)
	login(t, m)

	testutil.WaitForCondition(t, func() bool { return srv.RefreshCalls.Load() >= 2 }, 2*time.Second)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	after := srv.RefreshCalls.Load()
	time.Sleep(150 * time.Millisecond)
	if got := srv.RefreshCalls.Load(); got != after {
		t.Errorf("refresh fired after logout: %d -> %d", after, got)
	}
}

func TestManager_AutoRefreshRotatesTokens(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, 20*time.Millisecond)
	first := login(t, m)

	testutil.WaitForCondition(t, func() bool {
		pair, ok := store.Get(tokenstore.User)
		return ok && pair.AccessToken != first.AccessToken
	}, 2*time.Second)

	if m.State() != Authenticated {
		t.Errorf("state = %s", m.State())
	}
}

func TestManager_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	srv.SetRefreshRotation(false)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	first := login(t, m)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	pair, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.RefreshToken != first.RefreshToken {
		t.Error("refresh token should be kept when the server omits it")
	}
	if pair.AccessToken == first.AccessToken {
		t.Error("access token should change")
	}
}

func TestManager_Start(t *testing.T) {
	t.Run("no stored token", func(t *testing.T) {
		srv := testutil.NewAuthServer(t)
		m := newManager(t, srv, tokenstore.User, nil, -1)
		states := m.Subscribe()

		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if m.State() != Anonymous {
			t.Errorf("state = %s", m.State())
		}
		if s := <-states; s != Checking {
			t.Errorf("first transition = %s, want checking", s)
		}
		if s := <-states; s != Anonymous {
			t.Errorf("second transition = %s, want anonymous", s)
		}
		if srv.CheckCalls.Load() != 0 {
			t.Error("no check request should be sent without a token")
		}
	})

	t.Run("valid stored token", func(t *testing.T) {
		srv := testutil.NewAuthServer(t)
		store := tokenstore.NewMemory()
		login(t, newManager(t, srv, tokenstore.User, store, -1))

		m := newManager(t, srv, tokenstore.User, store, -1)
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		sess, ok := m.Session()
		if !ok || sess.ActorName != "alice" || sess.ActorID != "7" {
			t.Errorf("restored session = %+v, %v", sess, ok)
		}
		if srv.CheckCalls.Load() != 1 {
			t.Errorf("check calls = %d", srv.CheckCalls.Load())
		}
	})

	t.Run("expired stored token is refreshed", func(t *testing.T) {
		srv := testutil.NewAuthServer(t)
		store := tokenstore.NewMemory()
		login(t, newManager(t, srv, tokenstore.User, store, -1))
		srv.ExpireAccessTokens()

		m := newManager(t, srv, tokenstore.User, store, -1)
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if m.State() != Authenticated {
			t.Errorf("state = %s", m.State())
		}
		if srv.RefreshCalls.Load() != 1 {
			t.Errorf("refresh calls = %d", srv.RefreshCalls.Load())
		}
	})

	t.Run("rejected stored token is cleared", func(t *testing.T) {
		srv := testutil.NewAuthServer(t)
		store := tokenstore.NewMemory()
		login(t, newManager(t, srv, tokenstore.User, store, -1))
		srv.ExpireAccessTokens()
		srv.SetRefreshFailure(true)

		m := newManager(t, srv, tokenstore.User, store, -1)
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start should not fail on rejected token: %v", err)
		}
		if m.State() != Anonymous {
			t.Errorf("state = %s", m.State())
		}
		if _, ok := store.Get(tokenstore.User); ok {
			t.Error("rejected tokens should be cleared")
		}
	})

	t.Run("unreachable server keeps tokens", func(t *testing.T) {
		srv := testutil.NewAuthServer(t)
		store := tokenstore.NewMemory()
		login(t, newManager(t, srv, tokenstore.User, store, -1))
		srv.Close()

		m := newManager(t, srv, tokenstore.User, store, -1)
		err := m.Start(context.Background())
		if !apiclient.IsKind(err, apiclient.KindNetwork) {
			t.Errorf("expected network error, got %v", err)
		}
		if m.State() != Anonymous {
			t.Errorf("state = %s", m.State())
		}
		if _, ok := store.Get(tokenstore.User); !ok {
			t.Error("tokens should survive a transport failure")
		}
	})
}

func TestManager_AdminNamespace(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	user := newManager(t, srv, tokenstore.User, store, -1)
	admin := newManager(t, srv, tokenstore.Admin, store, -1)

	login(t, user)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	sess, err := admin.Login(ctx, "root", "pw")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if sess.ActorName != "root" || sess.ActorID != "7" {
		t.Errorf("admin session = %+v", sess)
	}

	name, err := admin.WhoAmI(ctx)
	if err != nil || name != "root" {
		t.Errorf("WhoAmI = %q, %v", name, err)
	}

	if err := admin.Logout(ctx); err != nil {
		t.Fatalf("admin logout failed: %v", err)
	}
	if _, ok := store.Get(tokenstore.User); !ok {
		t.Error("admin logout must not clear the user session")
	}
	if user.State() != Authenticated {
		t.Error("user session should be unaffected")
	}

	if _, err := admin.GetProfile(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("admin profile should be unsupported, got %v", err)
	}
}

func TestManager_Register(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, -1)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	sess, err := m.Register(ctx, Registration{Username: "bua", Email: "bua@example.com", Password: "Secret123"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if sess.ActorName != "bua" || sess.ActorID != "8" || m.State() != Authenticated {
		t.Errorf("session after register = %+v (%s)", sess, m.State())
	}

	_, err = m.Register(ctx, Registration{Username: "alice", Email: "a@example.com", Password: "Secret123"})
	if got := apiclient.FieldErrors(err)["username"]; got != "already taken" {
		t.Errorf("duplicate username field error = %q (err=%v)", got, err)
	}

	_, err = m.Register(ctx, Registration{Username: "x", Email: "x@example.com", Password: "Secret123", BirthDate: "01/02/2000"})
	if !apiclient.IsKind(err, apiclient.KindValidation) {
		t.Errorf("bad birth date should fail locally, got %v", err)
	}
}

func TestManager_Profile(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, -1)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := m.GetProfile(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("GetProfile without session = %v", err)
	}

	login(t, m)

	p, err := m.GetProfile(ctx)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.Username != "alice" || p.Email != "alice@example.com" {
		t.Errorf("profile = %+v", p)
	}

	upd := ProfileUpdate{
		Email:     "alice@lanna.example",
		BirthDate: "1999-04-13",
		Details:   &ProfileDetails{Firstname: "Alice", Country: "TH"},
	}
	if err := m.UpdateProfile(ctx, upd); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	p, err = m.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != "alice@lanna.example" || p.BirthDate != "1999-04-13" || p.Details.Firstname != "Alice" {
		t.Errorf("updated profile = %+v", p)
	}

	err = m.UpdateProfile(ctx, ProfileUpdate{BirthDate: "13-04-1999"})
	if apiclient.FieldErrors(err)["birth_date"] == "" {
		t.Errorf("expected birth_date field error, got %v", err)
	}
	err = m.UpdateProfile(ctx, ProfileUpdate{Email: "nope"})
	if apiclient.FieldErrors(err)["email"] == "" {
		t.Errorf("expected email field error, got %v", err)
	}
}

func TestManager_ChangePassword(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, -1)
	login(t, m)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	tests := []struct {
		name                   string
		current, next, confirm string
		field                  string
	}{
		{"missing current", "", "Secret123", "Secret123", "current_password"},
		{"mismatch", "pw", "Secret123", "Secret124", "confirm_password"},
		{"too weak", "pw", "secret", "secret", "new_password"},
		{"wrong current", "nope", "Secret123", "Secret123", "current_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ChangePassword(ctx, tt.current, tt.next, tt.confirm)
			if !apiclient.IsKind(err, apiclient.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if apiclient.FieldErrors(err)[tt.field] == "" {
				t.Errorf("expected field error on %s, got %v", tt.field, apiclient.FieldErrors(err))
			}
		})
	}

	if m.State() != Authenticated {
		t.Fatal("a wrong password must not end the session")
	}
	if err := m.ChangePassword(ctx, "pw", "Secret123", "Secret123"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if srv.Password("alice") != "Secret123" {
		t.Error("server password not changed")
	}
	if srv.RefreshCalls.Load() != 0 {
		t.Error("password rejection must not trigger a refresh")
	}
}

// Without an exp claim the token's age is unknown, so an expired token must
// be refreshed rather than reported as a wrong password.
func TestManager_ChangePasswordRefreshesTokenWithoutExpiry(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	srv.AccessTTL = 0
	m := newManager(t, srv, tokenstore.User, nil, -1)
	if sess := login(t, m); !sess.ExpiresAt.IsZero() {
		t.Fatalf("ExpiresAt = %v, want zero for a token without exp", sess.ExpiresAt)
	}

	ctx, cancel := testutil.TestContext()
	defer cancel()

	srv.ExpireAccessTokens()
	if err := m.ChangePassword(ctx, "pw", "Secret123", "Secret123"); err != nil {
		t.Fatalf("ChangePassword with an expired token failed: %v", err)
	}
	if srv.Password("alice") != "Secret123" {
		t.Error("server password not changed")
	}
	if n := srv.RefreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}

	err := m.ChangePassword(ctx, "nope", "Secret456", "Secret456")
	if apiclient.FieldErrors(err)["current_password"] == "" {
		t.Errorf("wrong password should still be a field error, got %v", err)
	}
	if m.State() != Authenticated {
		t.Errorf("state = %s, want authenticated", m.State())
	}
}

func TestManager_DeleteAccount(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	store := tokenstore.NewMemory()
	m := newManager(t, srv, tokenstore.User, store, -1)
	login(t, m)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := m.DeleteAccount(ctx, "wrong"); !apiclient.IsKind(err, apiclient.KindValidation) {
		t.Errorf("wrong password should be a validation error, got %v", err)
	}
	if err := m.DeleteAccount(ctx, "pw"); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if m.State() != Anonymous {
		t.Errorf("state = %s", m.State())
	}
	if _, ok := store.Get(tokenstore.User); ok {
		t.Error("store should be cleared after account deletion")
	}
}

func TestManager_PasswordReset(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, -1)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := m.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	if err := m.ForgotPassword(ctx, " "); !apiclient.IsKind(err, apiclient.KindValidation) {
		t.Errorf("empty email should fail locally, got %v", err)
	}

	token := srv.IssueResetToken("alice")
	if err := m.ResetPassword(ctx, token, "weak"); !apiclient.IsKind(err, apiclient.KindValidation) {
		t.Errorf("weak password should fail locally, got %v", err)
	}
	if err := m.ResetPassword(ctx, token, "NewSecret1"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if srv.Password("alice") != "NewSecret1" {
		t.Error("password not reset")
	}
	if err := m.ResetPassword(ctx, "bogus", "NewSecret1"); !apiclient.IsKind(err, apiclient.KindUnauthorized) {
		t.Errorf("bogus token should be unauthorized, got %v", err)
	}
}

func TestManager_CloseClosesSubscriptions(t *testing.T) {
	srv := testutil.NewAuthServer(t)
	m := newManager(t, srv, tokenstore.User, nil, time.Hour)
	login(t, m)

	states := m.Subscribe()
	m.Close()

	for range states {
	}
	if _, ok := <-m.Subscribe(); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		pw string
		ok bool
	}{
		{"Secret123", true},
		{"SECRET123", true},
		{"secret123", false},
		{"SecretABC", false},
		{"Sec1", false},
	}
	for _, tt := range tests {
		if err := ValidatePassword(tt.pw); (err == nil) != tt.ok {
			t.Errorf("ValidatePassword(%q) = %v, want ok=%v", tt.pw, err, tt.ok)
		}
	}
}

func TestFlexID(t *testing.T) {
	var resp authResponse
	if err := json.Unmarshal([]byte(`{"user_id": 42, "admin_id": "a-1"}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != "42" || resp.AdminID != "a-1" {
		t.Errorf("ids = %q, %q", resp.UserID, resp.AdminID)
	}
	if err := json.Unmarshal([]byte(`{"user_id": null}`), &resp); err != nil {
		t.Errorf("null id should decode: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Checking.String() != "checking" || State(9).String() != "state(9)" {
		t.Error("unexpected State strings")
	}
}
