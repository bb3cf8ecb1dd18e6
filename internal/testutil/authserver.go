package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("lanna-test-secret")

// AuthServer is an in-process stand-in for the Lanna auth API. Tokens are
// real HS256 JWTs, but validity is tracked server-side so tests can expire
// them on demand.
type AuthServer struct {
	*httptest.Server

	// AccessTTL sets the exp claim of access tokens; zero issues tokens
	// without one.
	AccessTTL time.Duration
	// RefreshDelay holds each refresh response, widening the window for
	// concurrent callers.
	RefreshDelay time.Duration
	// OnRefresh, when set, runs at the start of every refresh request
	// before the token is looked up.
	OnRefresh func()

	RefreshCalls atomic.Int32
	LogoutCalls  atomic.Int32
	CheckCalls   atomic.Int32
	DataCalls    atomic.Int32

	mu           sync.Mutex
	users        map[string]string
	admins       map[string]string
	access       map[string]grant
	refresh      map[string]grant
	profiles     map[string]map[string]any
	failRefresh  bool
	failLogout   bool
	omitRotation bool
	seq          int
}

type grant struct {
	kind string
	name string
}

func NewAuthServer(t *testing.T) *AuthServer {
	t.Helper()

	s := &AuthServer{
		AccessTTL: 15 * time.Minute,
		users:     map[string]string{"alice": "pw"},
		admins:    map[string]string{"root": "pw"},
		access:    make(map[string]grant),
		refresh:   make(map[string]grant),
		profiles:  make(map[string]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin("user"))
	mux.HandleFunc("POST /admin/login", s.handleLogin("admin"))
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /refresh", s.handleRefresh("user"))
	mux.HandleFunc("POST /admin/refresh", s.handleRefresh("admin"))
	mux.HandleFunc("POST /logout", s.handleLogout("user"))
	mux.HandleFunc("POST /admin/logout", s.handleLogout("admin"))
	mux.HandleFunc("POST /check_token", s.protected("user", func(w http.ResponseWriter, r *http.Request, g grant) {
		s.CheckCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"message": "token valid"})
	}))
	mux.HandleFunc("GET /admin/protected", s.protected("admin", func(w http.ResponseWriter, r *http.Request, g grant) {
		s.CheckCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"logged_in_as": g.name})
	}))
	mux.HandleFunc("GET /data", s.protected("user", func(w http.ResponseWriter, r *http.Request, g grant) {
		s.DataCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"data": "secret-for-" + g.name})
	}))
	mux.HandleFunc("GET /profile/{username}", s.protected("user", s.handleGetProfile))
	mux.HandleFunc("PATCH /profile/{username}", s.protected("user", s.handlePatchProfile))
	mux.HandleFunc("POST /change-password", s.protected("user", s.handleChangePassword))
	mux.HandleFunc("DELETE /delete-account", s.protected("user", s.handleDeleteAccount))
	mux.HandleFunc("POST /auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "reset link sent"})
	})
	mux.HandleFunc("POST /auth/reset-password", s.handleResetPassword)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// ExpireAccessTokens makes every issued access token fail with 401.
func (s *AuthServer) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]grant)
}

func (s *AuthServer) SetRefreshFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

func (s *AuthServer) SetLogoutFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogout = fail
}

// SetRefreshRotation controls whether refresh responses carry a new refresh token.
func (s *AuthServer) SetRefreshRotation(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitRotation = !rotate
}

// IssueResetToken returns a token accepted by the password reset endpoint.
func (s *AuthServer) IssueResetToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked("user", username, "access")
}

func (s *AuthServer) Password(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username]
}

func (s *AuthServer) issueLocked(kind, name, typ string) string {
	s.seq++
	claims := jwt.MapClaims{
		"sub":  name,
		"type": typ,
		"jti":  fmt.Sprintf("%s-%d", typ, s.seq),
		"iat":  time.Now().Unix(),
	}
	if typ == "access" && s.AccessTTL > 0 {
		claims["exp"] = time.Now().Add(s.AccessTTL).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	if typ == "access" {
		s.access[token] = grant{kind: kind, name: name}
	} else {
		s.refresh[token] = grant{kind: kind, name: name}
	}
	return token
}

func (s *AuthServer) handleLogin(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		accounts, idField := s.users, "user_id"
		if kind == "admin" {
			accounts, idField = s.admins, "admin_id"
		}
		if pw, ok := accounts[req.Username]; !ok || pw != req.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  s.issueLocked(kind, req.Username, "access"),
			"refresh_token": s.issueLocked(kind, req.Username, "refresh"),
			idField:         7,
			"username":      req.Username,
		})
	}
}

func (s *AuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid registration"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Username]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "username already taken",
			"errors": map[string]string{"username": "already taken"},
		})
		return
	}
	s.users[req.Username] = req.Password
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "registered",
		"access_token":  s.issueLocked("user", req.Username, "access"),
		"refresh_token": s.issueLocked("user", req.Username, "refresh"),
		"user_id":       8,
	})
}

func (s *AuthServer) handleRefresh(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.RefreshCalls.Add(1)
		if s.RefreshDelay > 0 {
			time.Sleep(s.RefreshDelay)
		}
		if s.OnRefresh != nil {
			s.OnRefresh()
		}

		token := bearer(r)
		s.mu.Lock()
		defer s.mu.Unlock()

		g, ok := s.refresh[token]
		if s.failRefresh || !ok || g.kind != kind {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		resp := map[string]string{"access_token": s.issueLocked(kind, g.name, "access")}
		if !s.omitRotation {
			delete(s.refresh, token)
			resp["refresh_token"] = s.issueLocked(kind, g.name, "refresh")
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *AuthServer) handleLogout(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.LogoutCalls.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failLogout {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout failed"})
			return
		}
		delete(s.access, bearer(r))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
	}
}

func (s *AuthServer) protected(kind string, next func(http.ResponseWriter, *http.Request, grant)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		g, ok := s.access[bearer(r)]
		s.mu.Unlock()
		if !ok || g.kind != kind {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		next(w, r, g)
	}
}

func (s *AuthServer) handleGetProfile(w http.ResponseWriter, r *http.Request, g grant) {
	username := r.PathValue("username")
	if username != g.name {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not your profile"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[username]
	if !ok {
		profile = map[string]any{
			"username": username,
			"email":    username + "@example.com",
			"profile":  map[string]any{"firstname": "", "lastname": ""},
		}
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *AuthServer) handlePatchProfile(w http.ResponseWriter, r *http.Request, g grant) {
	username := r.PathValue("username")
	if username != g.name {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not your profile"})
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if bd, ok := body["birth_date"].(string); ok {
		if _, err := time.Parse("2006-01-02", bd); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid birth date",
				"errors": map[string]string{"birth_date": "use YYYY-MM-DD"},
			})
			return
		}
	}
	body["username"] = username
	s.mu.Lock()
	s.profiles[username] = body
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "profile updated"})
}

func (s *AuthServer) handleChangePassword(w http.ResponseWriter, r *http.Request, g grant) {
	var req struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
		Confirm string `json:"confirm_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[g.name] != req.Current {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "current password is incorrect"})
		return
	}
	s.users[g.name] = req.New
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (s *AuthServer) handleDeleteAccount(w http.ResponseWriter, r *http.Request, g grant) {
	var req struct {
		Password string `json:"password"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[g.name] != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "wrong password"})
		return
	}
	delete(s.users, g.name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

func (s *AuthServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.access[req.Token]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid reset token"})
		return
	}
	s.users[g.name] = req.NewPassword
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
