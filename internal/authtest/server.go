// Package authtest runs an in-process fake of the parcel-delivery auth
// service for tests. Issued access tokens are real HS256 JWTs so traffic
// looks like production traffic on the wire; the client under test still
// treats them as opaque strings.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/reduanahmadswe/parcel-delivery-client/profile"
)

// Account seeds a login on the fake server.
type Account struct {
	Email    string
	Password string
	Profile  profile.Profile
}

// Server is the fake auth service. The zero behaviour is a healthy server
// returning flat (non-enveloped) payloads; flip the exported fields to
// exercise failure branches and the enveloped response shape.
type Server struct {
	*httptest.Server

	// EnvelopeResponses wraps every payload in {success, data: {...}}.
	EnvelopeResponses bool
	// RefreshStatus, when non-zero, forces that status from the renewal
	// endpoint.
	RefreshStatus int
	// RotateRefreshTokens issues a new refresh token on every renewal.
	RotateRefreshTokens bool
	// OmitRenewedAccessToken makes renewal succeed with a payload that
	// carries no access token.
	OmitRenewedAccessToken bool
	// MeStatus, when non-zero, forces that status from /auth/me regardless
	// of the presented token.
	MeStatus int

	mu            sync.Mutex
	secret        []byte
	generation    int
	accounts      map[string]Account // by email
	refreshTokens map[string]string  // refresh token -> email
	loginCalls    int
	registerCalls int
	refreshCalls  int
	meCalls       int
	logoutCalls   int
}

// New starts the fake service. Callers own Close.
func New() *Server {
	s := &Server{
		secret:        []byte(uuid.NewString()),
		accounts:      map[string]Account{},
		refreshTokens: map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/refresh-token", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddAccount seeds an account and returns a refresh token already valid for
// it, for tests that want a session without going through login.
func (s *Server) AddAccount(account Account) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Email] = account
	refreshToken := uuid.NewString()
	s.refreshTokens[refreshToken] = account.Email
	return refreshToken
}

// MintAccessToken issues a currently-valid access token for email.
func (s *Server) MintAccessToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(email)
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid, so the next renewal succeeds.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens invalidates every refresh token, making renewal fail
// with a 401.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = map[string]string{}
}

func (s *Server) LoginCalls() int    { s.mu.Lock(); defer s.mu.Unlock(); return s.loginCalls }
func (s *Server) RegisterCalls() int { s.mu.Lock(); defer s.mu.Unlock(); return s.registerCalls }
func (s *Server) RefreshCalls() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.refreshCalls }
func (s *Server) MeCalls() int       { s.mu.Lock(); defer s.mu.Unlock(); return s.meCalls }
func (s *Server) LogoutCalls() int   { s.mu.Lock(); defer s.mu.Unlock(); return s.logoutCalls }

func (s *Server) mintLocked(email string) string {
	claims := jwt.MapClaims{
		"sub": email,
		"gen": s.generation,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// authenticate validates a bearer token and returns the account email.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	parsed, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	generation, _ := claims["gen"].(float64)
	if int(generation) != current {
		return "", false
	}
	email, _ := claims["sub"].(string)
	return email, email != ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.loginCalls++
	s.mu.Unlock()

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "malformed request"})
		return
	}
	s.mu.Lock()
	account, ok := s.accounts[body.Email]
	if !ok || account.Password != body.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "invalid email or password"})
		return
	}
	accessToken := s.mintLocked(body.Email)
	refreshToken := uuid.NewString()
	s.refreshTokens[refreshToken] = body.Email
	s.mu.Unlock()

	s.writePayload(w, http.StatusOK, map[string]interface{}{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         account.Profile,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.registerCalls++
	s.mu.Unlock()

	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "malformed request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Email]; exists {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"success": false, "message": "email already registered"})
		return
	}
	s.accounts[body.Email] = Account{
		Email:    body.Email,
		Password: body.Password,
		Profile:  profile.Profile{ID: uuid.NewString(), Email: body.Email, Name: body.Name, Role: profile.RoleSender},
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "message": "registration successful"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.meCalls++
	forcedStatus := s.MeStatus
	s.mu.Unlock()

	if forcedStatus != 0 {
		writeJSON(w, forcedStatus, map[string]interface{}{"success": false, "message": "unavailable"})
		return
	}
	email, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "unauthorized"})
		return
	}
	s.mu.Lock()
	account := s.accounts[email]
	s.mu.Unlock()
	s.writePayload(w, http.StatusOK, map[string]interface{}{"user": account.Profile})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	forcedStatus := s.RefreshStatus
	s.mu.Unlock()

	if forcedStatus != 0 {
		writeJSON(w, forcedStatus, map[string]interface{}{"success": false, "message": "refresh unavailable"})
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "malformed request"})
		return
	}
	s.mu.Lock()
	email, ok := s.refreshTokens[body.RefreshToken]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "invalid refresh token"})
		return
	}
	payload := map[string]interface{}{}
	if !s.OmitRenewedAccessToken {
		payload["accessToken"] = s.mintLocked(email)
	}
	if s.RotateRefreshTokens {
		delete(s.refreshTokens, body.RefreshToken)
		rotated := uuid.NewString()
		s.refreshTokens[rotated] = email
		payload["refreshToken"] = rotated
	}
	s.mu.Unlock()

	s.writePayload(w, http.StatusOK, payload)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logoutCalls++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

/// writePayload applies the configured response shape: flat, or wrapped in the
// standard {success, data} envelope.
func (s *Server) writePayload(w http.ResponseWriter, status int, payload map[string]interface{}) {
	if s.EnvelopeResponses {
		writeJSON(w, status, map[string]interface{}{"success": true, "data": payload})
		return
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
