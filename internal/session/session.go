package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/notify"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

const (
	DefaultRefreshInterval = 15 * time.Minute
	DefaultProfileTimeout  = 5 * time.Second
	refreshTimeout         = 15 * time.Second
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrUnsupported = errors.New("operation not available for this actor")
)

type State int

const (
	Unknown State = iota
	Checking
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the authenticated actor. ExpiresAt is zero when the access
// token carries no exp claim.
type Session struct {
	ActorID      string
	ActorName    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Endpoints are the auth paths for one actor kind, relative to the base URL.
type Endpoints struct {
	Login       string
	Refresh     string
	Logout      string
	Check       string
	CheckMethod string
	// IDField is the login response field carrying the actor id.
	IDField string

	// user-only; empty for admins
	Register       string
	Profile        string
	ChangePassword string
	DeleteAccount  string
	ForgotPassword string
	ResetPassword  string
}

func UserEndpoints() Endpoints {
	return Endpoints{
		Login:          "/login",
		Refresh:        "/refresh",
		Logout:         "/logout",
		Check:          "/check_token",
		CheckMethod:    http.MethodPost,
		IDField:        "user_id",
		Register:       "/register",
		Profile:        "/profile/",
		ChangePassword: "/change-password",
		DeleteAccount:  "/delete-account",
		ForgotPassword: "/auth/forgot-password",
		ResetPassword:  "/auth/reset-password",
	}
}

func AdminEndpoints() Endpoints {
	return Endpoints{
		Login:       "/admin/login",
		Refresh:     "/admin/refresh",
		Logout:      "/admin/logout",
		Check:       "/admin/protected",
		CheckMethod: http.MethodGet,
		IDField:     "admin_id",
	}
}

// EndpointsFor returns the preset for kind.
func EndpointsFor(kind tokenstore.ActorKind) Endpoints {
	if kind == tokenstore.Admin {
		return AdminEndpoints()
	}
	return UserEndpoints()
}

type Options struct {
	Actor     tokenstore.ActorKind
	Endpoints Endpoints
	Store     tokenstore.Store
	// Client carries the transport settings; Store, Actor, Refresher and
	// OnAuthExpired are filled in by the manager.
	Client          apiclient.Options
	RefreshInterval time.Duration
	ProfileTimeout  time.Duration
	Notifier        notify.Notifier
}

// Manager owns one actor's session: its tokens, its request client, and the
// background refresh timer.
type Manager struct {
	actor           tokenstore.ActorKind
	endpoints       Endpoints
	store           tokenstore.Store
	client          *apiclient.Client
	notifier        notify.Notifier
	profileTimeout  time.Duration
	refreshInterval time.Duration

	flight singleflight.Group

	mu      sync.Mutex
	state   State
	session Session
	// generation increments whenever local credentials are cleared or
	// replaced, so an in-flight refresh cannot resurrect them.
	generation  uint64
	stopRefresh context.CancelFunc
	refreshDone chan struct{}
	subs        []chan State
	closed      bool
}

func New(opts Options) (*Manager, error) {
	m := &Manager{
		actor:           opts.Actor,
		endpoints:       opts.Endpoints,
		store:           opts.Store,
		notifier:        opts.Notifier,
		profileTimeout:  opts.ProfileTimeout,
		refreshInterval: opts.RefreshInterval,
	}
	if m.actor == "" {
		m.actor = tokenstore.User
	}
	if m.endpoints.Login == "" {
		m.endpoints = EndpointsFor(m.actor)
	}
	if m.store == nil {
		m.store = tokenstore.NewMemory()
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.profileTimeout <= 0 {
		m.profileTimeout = DefaultProfileTimeout
	}
	if m.refreshInterval == 0 {
		m.refreshInterval = DefaultRefreshInterval
	}

	clientOpts := opts.Client
	clientOpts.Store = m.store
	clientOpts.Actor = m.actor
	clientOpts.Refresher = m
	clientOpts.OnAuthExpired = m.expire
	client, err := apiclient.New(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", m.actor, err)
	}
	m.client = client
	return m, nil
}

func (m *Manager) Actor() tokenstore.ActorKind { return m.actor }

// Client returns the request client bound to this session.
func (m *Manager) Client() *apiclient.Client { return m.client }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the current session when authenticated.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return Session{}, false
	}
	return m.session, true
}

// Subscribe returns a channel receiving every state transition. Slow
// subscribers miss transitions rather than block the manager. The channel is
// closed by Close.
func (m *Manager) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan State, 8)
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// SetRefreshInterval changes the auto-refresh period, restarting the timer
// when authenticated. Zero or negative disables it.
func (m *Manager) SetRefreshInterval(d time.Duration) {
	m.mu.Lock()
	if d == m.refreshInterval {
		m.mu.Unlock()
		return
	}
	m.refreshInterval = d
	var done chan struct{}
	if m.state == Authenticated {
		done = m.stopRefreshLocked()
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Authenticated {
		m.startRefreshLocked()
	}
}

// Close stops the refresh timer and closes subscriptions. Stored tokens
// are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	done := m.stopRefreshLocked()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	log.Printf("Session manager: %s session %s -> %s", m.actor, m.state, s)
	m.state = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

// enterAuthenticated installs sess and starts the refresh timer.
func (m *Manager) enterAuthenticated(sess Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = sess
	m.setStateLocked(Authenticated)
	m.startRefreshLocked()
}

// clearLocal wipes stored and in-memory credentials and moves to Anonymous.
// It returns the refresh loop's done channel, if one was running; callers
// outside the loop may wait on it.
func (m *Manager) clearLocal(expired bool) chan struct{} {
	// Bump and clear under m.mu: doRefresh checks the generation under the
	// same lock before it stores a pair.
	m.mu.Lock()
	m.generation++
	m.store.Clear(m.actor)
	wasAuthenticated := m.state == Authenticated
	m.session = Session{}
	done := m.stopRefreshLocked()
	m.setStateLocked(Anonymous)
	m.mu.Unlock()

	if expired && wasAuthenticated {
		m.notifier.SessionExpired(string(m.actor))
	}
	return done
}

// expire is the request client's teardown hook.
func (m *Manager) expire() {
	log.Printf("Session manager: %s session rejected after refresh, signing out", m.actor)
	m.clearLocal(true)
}

func (m *Manager) sessionFromStore() (Session, bool) {
	pair, ok := m.store.Get(m.actor)
	if !ok {
		return Session{}, false
	}
	sess := Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    tokenExpiry(pair.AccessToken),
	}
	if id, ok := m.store.Identity(m.actor); ok {
		sess.ActorID = id.ActorID
		sess.ActorName = id.ActorName
	}
	if sess.ActorName == "" {
		sess.ActorName = tokenSubject(pair.AccessToken)
	}
	return sess, true
}

// tokenExpiry reads exp without verifying the signature; the server remains
// the authority on validity.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func tokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
