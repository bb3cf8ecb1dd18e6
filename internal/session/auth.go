package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       flexID `json:"user_id"`
	AdminID      flexID `json:"admin_id"`
	Username     string `json:"username"`
}

// flexID accepts numeric or string ids.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (r authResponse) actorID(field string) string {
	if field == "admin_id" {
		return string(r.AdminID)
	}
	return string(r.UserID)
}

// Start validates any stored token against the protected check endpoint.
// The state is Checking for the duration. A rejected token clears local
// credentials; a transport failure keeps them and returns the error.
func (m *Manager) Start(ctx context.Context) error {
	m.setState(Checking)

	if _, ok := m.store.Get(m.actor); !ok {
		m.setState(Anonymous)
		return nil
	}

	name, err := m.check(ctx)
	if err != nil {
		switch apiclient.KindOf(err) {
		case apiclient.KindAuthExpired, apiclient.KindUnauthorized:
			log.Printf("Session manager: stored %s token rejected: %v", m.actor, err)
			m.clearLocal(false)
			return nil
		default:
			m.setState(Anonymous)
			return fmt.Errorf("validate stored %s session: %w", m.actor, err)
		}
	}

	sess, ok := m.sessionFromStore()
	if !ok {
		m.setState(Anonymous)
		return nil
	}
	if name != "" {
		sess.ActorName = name
	}
	m.enterAuthenticated(sess)
	log.Printf("Session manager: restored %s session for %s", m.actor, sess.ActorName)
	return nil
}

// check calls the protected endpoint through the refreshing client and
// returns the server's view of the actor name, if it reports one.
func (m *Manager) check(ctx context.Context) (string, error) {
	method := m.endpoints.CheckMethod
	if method == "" {
		method = http.MethodGet
	}
	var out struct {
		LoggedInAs string `json:"logged_in_as"`
	}
	resp, err := m.client.Do(ctx, method, m.endpoints.Check, nil)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(resp.Body)) > 0 && resp.Decode(&out) == nil {
		return out.LoggedInAs, nil
	}
	return "", nil
}

// WhoAmI asks the server which actor the current token belongs to.
func (m *Manager) WhoAmI(ctx context.Context) (string, error) {
	name, err := m.check(ctx)
	if err != nil {
		return "", fmt.Errorf("check %s session: %w", m.actor, err)
	}
	if name == "" {
		if sess, ok := m.Session(); ok {
			name = sess.ActorName
		}
	}
	return name, nil
}

func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: "username and password are required",
			Fields:  missingFields(map[string]string{"username": username, "password": password}),
		}
	}

	var resp authResponse
	err := m.client.SendJSON(ctx, http.MethodPost, m.endpoints.Login, credentials{username, password}, &resp, apiclient.WithoutAuth())
	if err != nil {
		m.settleAnonymous()
		return Session{}, fmt.Errorf("%s login: %w", m.actor, err)
	}
	if resp.Username == "" {
		resp.Username = username
	}
	return m.establish(resp)
}

type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Gender    string `json:"gender,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Register creates a user account and signs it in.
func (m *Manager) Register(ctx context.Context, reg Registration) (Session, error) {
	if m.endpoints.Register == "" {
		return Session{}, ErrUnsupported
	}
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if fields := missingFields(map[string]string{"username": reg.Username, "email": reg.Email, "password": reg.Password}); fields != nil {
		return Session{}, &apiclient.Error{Kind: apiclient.KindValidation, Message: "missing required fields", Fields: fields}
	}
	if err := validateBirthDate(reg.BirthDate); err != nil {
		return Session{}, err
	}

	var resp authResponse
	if err := m.client.SendJSON(ctx, http.MethodPost, m.endpoints.Register, reg, &resp, apiclient.WithoutAuth()); err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	if resp.Username == "" {
		resp.Username = reg.Username
	}
	return m.establish(resp)
}

func (m *Manager) establish(resp authResponse) (Session, error) {
	if resp.AccessToken == "" {
		m.settleAnonymous()
		return Session{}, &apiclient.Error{Kind: apiclient.KindServer, Message: "server issued no access token"}
	}

	pair := tokenstore.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	id := tokenstore.Identity{ActorID: resp.actorID(m.endpoints.IDField), ActorName: resp.Username}

	m.mu.Lock()
	m.generation++
	done := m.stopRefreshLocked()
	m.mu.Unlock()
	if done != nil {
		<-done
	}

	m.store.Set(m.actor, pair)
	m.store.SetIdentity(m.actor, id)

	sess := Session{
		ActorID:      id.ActorID,
		ActorName:    id.ActorName,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    tokenExpiry(pair.AccessToken),
	}
	m.enterAuthenticated(sess)
	log.Printf("Session manager: %s %s signed in (token %s)", m.actor, sess.ActorName, tokenstore.MaskToken(pair.AccessToken))
	return sess, nil
}

// settleAnonymous resolves Unknown or Checking to Anonymous without touching
// an existing session.
func (m *Manager) settleAnonymous() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		m.setStateLocked(Anonymous)
	}
}

// Logout asks the server to invalidate the token, then clears local
// credentials whatever the outcome. The returned error only reports the
// server call; the session is gone either way.
func (m *Manager) Logout(ctx context.Context) error {
	var serverErr error
	if pair, ok := m.store.Get(m.actor); ok {
		_, serverErr = m.client.Post(ctx, m.endpoints.Logout, nil, apiclient.WithBearer(pair.AccessToken))
	}

	if done := m.clearLocal(false); done != nil {
		<-done
	}
	log.Printf("Session manager: %s signed out", m.actor)

	if serverErr != nil {
		return fmt.Errorf("server logout: %w", serverErr)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new pair. Any failure
// clears the local session.
func (m *Manager) Refresh(ctx context.Context) (tokenstore.TokenPair, error) {
	return m.refresh(ctx, "")
}

// RefreshAfter implements apiclient.Refresher. Concurrent callers share one
// refresh request; a caller whose token was already replaced gets the
// current pair without a request.
func (m *Manager) RefreshAfter(ctx context.Context, staleAccess string) (tokenstore.TokenPair, error) {
	return m.refresh(ctx, staleAccess)
}

func (m *Manager) refresh(ctx context.Context, staleAccess string) (tokenstore.TokenPair, error) {
	if pair, ok := m.replaced(staleAccess); ok {
		return pair, nil
	}

	ch := m.flight.DoChan("refresh", func() (any, error) {
		if pair, ok := m.replaced(staleAccess); ok {
			return pair, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.doRefresh(rctx)
	})

	select {
	case <-ctx.Done():
		return tokenstore.TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return tokenstore.TokenPair{}, res.Err
		}
		return res.Val.(tokenstore.TokenPair), nil
	}
}

// replaced reports the stored pair when it no longer carries staleAccess.
func (m *Manager) replaced(staleAccess string) (tokenstore.TokenPair, bool) {
	if staleAccess == "" {
		return tokenstore.TokenPair{}, false
	}
	pair, ok := m.store.Get(m.actor)
	if !ok || pair.AccessToken == staleAccess {
		return tokenstore.TokenPair{}, false
	}
	return pair, true
}

func (m *Manager) doRefresh(ctx context.Context) (tokenstore.TokenPair, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	current, ok := m.store.Get(m.actor)
	if !ok || current.RefreshToken == "" {
		m.clearLocal(true)
		return tokenstore.TokenPair{}, fmt.Errorf("refresh %s session: %w", m.actor, ErrNoSession)
	}

	var resp authResponse
	err := m.client.SendJSON(ctx, http.MethodPost, m.endpoints.Refresh, nil, &resp, apiclient.WithBearer(current.RefreshToken))
	if err == nil && resp.AccessToken == "" {
		err = &apiclient.Error{Kind: apiclient.KindServer, Message: "refresh response has no access token"}
	}
	if err != nil {
		log.Printf("Session manager: %s refresh failed: %v", m.actor, err)
		m.mu.Lock()
		stale := gen != m.generation
		m.mu.Unlock()
		if !stale {
			m.clearLocal(true)
		}
		return tokenstore.TokenPair{}, fmt.Errorf("refresh %s session: %w", m.actor, err)
	}

	next := tokenstore.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return tokenstore.TokenPair{}, fmt.Errorf("refresh %s session: %w", m.actor, ErrNoSession)
	}
	m.store.Set(m.actor, next)
	if m.state == Authenticated {
		m.session.AccessToken = next.AccessToken
		m.session.RefreshToken = next.RefreshToken
		m.session.ExpiresAt = tokenExpiry(next.AccessToken)
	}
	log.Printf("Session manager: refreshed %s tokens (%s)", m.actor, tokenstore.MaskToken(next.AccessToken))
	return next, nil
}

// startRefreshLocked starts the auto-refresh loop unless it is running or
// disabled.
func (m *Manager) startRefreshLocked() {
	if m.closed || m.stopRefresh != nil || m.refreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopRefresh = cancel
	m.refreshDone = done
	go m.refreshLoop(ctx, m.refreshInterval, done)
}

// stopRefreshLocked cancels the loop without waiting for it; the loop may be
// the caller.
func (m *Manager) stopRefreshLocked() chan struct{} {
	if m.stopRefresh == nil {
		return nil
	}
	m.stopRefresh()
	done := m.refreshDone
	m.stopRefresh = nil
	m.refreshDone = nil
	return done
}

func (m *Manager) refreshLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			log.Printf("Session manager: auto-refreshing %s tokens", m.actor)
			if _, err := m.refresh(context.Background(), ""); err != nil {
				log.Printf("Session manager: auto-refresh failed: %v", err)
				return
			}
		}
	}
}
