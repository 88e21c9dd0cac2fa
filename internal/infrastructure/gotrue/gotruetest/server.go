// Package gotruetest runs an in-process stand-in for the identity provider's
// REST API. It implements the endpoints the gotrue package calls with the
// provider's status codes and error codes, issues HS256 access tokens signed
// with a known secret, and lets tests inject failures.
package gotruetest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	AnonKey    = "test-anon-key"
	ServiceKey = "test-service-role-key"
	JWTSecret  = "test-jwt-secret-with-at-least-32-bytes"

	minPasswordLength = 6
)

type user struct {
	ID           string
	Email        string
	PasswordHash []byte
	Metadata     map[string]any
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
}

type session struct {
	ID      string
	UserID  string
	Refresh string
}

type failure struct {
	remaining int
	status    int
	body      map[string]any
}

// Server is a fake identity provider. Zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]*user    // by lower-cased email
	sessions  map[string]*session // by session id
	refresh   map[string]string   // refresh token -> session id
	hits      map[string]int
	failures  []*failure
	expiresIn time.Duration
	latency   time.Duration
}

// New starts a fake provider. Call Close when done.
func New() *Server {
	s := &Server{
		users:     make(map[string]*user),
		sessions:  make(map[string]*session),
		refresh:   make(map[string]string),
		hits:      make(map[string]int),
		expiresIn: time.Hour,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(s.track)

	g := e.Group("/auth/v1")
	g.GET("/health", s.handleHealth)
	g.POST("/admin/users", s.handleCreateUser, s.requireKey(ServiceKey, true))
	g.POST("/token", s.handleToken, s.requireKey(AnonKey, false))
	g.GET("/user", s.handleUser, s.requireKey(AnonKey, false))
	g.POST("/logout", s.handleLogout, s.requireKey(AnonKey, false))

	s.Server = httptest.NewServer(e)
	return s
}

// SetTokenLifetime changes expires_in for sessions issued from now on.
func (s *Server) SetTokenLifetime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = d
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNext makes the next n requests answer with status and a provider error
// body carrying code.
func (s *Server) FailNext(n, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{
		remaining: n,
		status:    status,
		body:      map[string]any{"code": status, "error_code": code, "msg": http.StatusText(status)},
	})
}

// Hits returns how many requests reached path, e.g. "/auth/v1/admin/users".
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Seed registers a confirmed user directly and returns its id.
func (s *Server) Seed(email, password, name string) string {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	now := time.Now().UTC()
	u := &user{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Metadata:     map[string]any{"name": name},
		ConfirmedAt:  &now,
		CreatedAt:    now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = u
	return u.ID
}

// RevokeSessions invalidates every issued access and refresh token.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
	s.refresh = make(map[string]string)
}

// UserCount returns the number of registered users.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Server) track(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.hits[c.Request().URL.Path]++
		latency := s.latency
		var f *failure
		if len(s.failures) > 0 {
			f = s.failures[0]
			f.remaining--
			if f.remaining <= 0 {
				s.failures = s.failures[1:]
			}
		}
		s.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-c.Request().Context().Done():
				return nil
			}
		}
		if f != nil {
			return c.JSON(f.status, f.body)
		}
		return next(c)
	}
}

func (s *Server) requireKey(key string, admin bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apikey := c.Request().Header.Get("apikey")
			if apikey != AnonKey && apikey != ServiceKey {
				return c.JSON(http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			}
			if admin && bearer(c) != key {
				return c.JSON(http.StatusForbidden, apiError(http.StatusForbidden, "not_admin", "User not allowed"))
			}
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"name": "GoTrue", "version": "test"})
}

type createUserBody struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (s *Server) handleCreateUser(c echo.Context) error {
	var body createUserBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "bad_json", "Could not parse request body as JSON"))
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	switch {
	case email == "":
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format"))
	case !strings.Contains(email, "@"):
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "email_address_invalid", "Unable to validate email address: invalid format"))
	case len(body.Password) < minPasswordLength:
		return c.JSON(http.StatusUnprocessableEntity, apiError(http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters."))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiError(http.StatusInternalServerError, "unexpected_failure", err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return c.JSON(http.StatusUnprocessableEntity, apiError(http.StatusUnprocessableEntity, "email_exists", "A user with this email address has already been registered"))
	}
	now := time.Now().UTC()
	u := &user{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     body.UserMetadata,
		CreatedAt:    now,
	}
	if body.EmailConfirm {
		u.ConfirmedAt = &now
	}
	s.users[email] = u
	return c.JSON(http.StatusOK, userJSON(u))
}

type tokenBody struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleToken(c echo.Context) error {
	var body tokenBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "bad_json", "Could not parse request body as JSON"))
	}

	switch c.QueryParam("grant_type") {
	case "password":
		return s.passwordGrant(c, body)
	case "refresh_token":
		return s.refreshGrant(c, body)
	default:
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type", "error_description": "unsupported grant type"})
	}
}

func (s *Server) passwordGrant(c echo.Context, body tokenBody) error {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(body.Email))]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(body.Password)) != nil {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials"))
	}
	if u.ConfirmedAt == nil {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "email_not_confirmed", "Email not confirmed"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue(c, u, uuid.NewString())
}

func (s *Server) refreshGrant(c echo.Context, body tokenBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, ok := s.refresh[body.RefreshToken]
	if !ok {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found"))
	}
	delete(s.refresh, body.RefreshToken)
	sess := s.sessions[sid]
	u := s.userByID(sess.UserID)
	if u == nil {
		return c.JSON(http.StatusBadRequest, apiError(http.StatusBadRequest, "user_not_found", "User not found"))
	}
	return s.issue(c, u, sid)
}

// issue must be called with s.mu held.
func (s *Server) issue(c echo.Context, u *user, sid string) error {
	now := time.Now()
	exp := now.Add(s.expiresIn)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        u.ID,
		"email":      u.Email,
		"role":       "authenticated",
		"aud":        "authenticated",
		"session_id": sid,
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
	})
	signed, err := token.SignedString([]byte(JWTSecret))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiError(http.StatusInternalServerError, "unexpected_failure", err.Error()))
	}

	refresh := randomToken()
	s.sessions[sid] = &session{ID: sid, UserID: u.ID, Refresh: refresh}
	s.refresh[refresh] = sid

	return c.JSON(http.StatusOK, map[string]any{
		"access_token":  signed,
		"token_type":    "bearer",
		"expires_in":    int64(s.expiresIn / time.Second),
		"expires_at":    exp.Unix(),
		"refresh_token": refresh,
		"user":          userJSON(u),
	})
}

func (s *Server) handleUser(c echo.Context) error {
	u, _, ok := s.authenticate(c)
	if !ok {
		return c.JSON(http.StatusForbidden, apiError(http.StatusForbidden, "bad_jwt", "invalid JWT: unable to parse or verify signature"))
	}
	return c.JSON(http.StatusOK, userJSON(u))
}

func (s *Server) handleLogout(c echo.Context) error {
	_, sid, ok := s.authenticate(c)
	if !ok {
		return c.JSON(http.StatusForbidden, apiError(http.StatusForbidden, "session_not_found", "Session from session_id claim in JWT does not exist"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, exists := s.sessions[sid]; exists {
		delete(s.refresh, sess.Refresh)
		delete(s.sessions, sid)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) authenticate(c echo.Context) (*user, string, bool) {
	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(bearer(c), claims, func(*jwt.Token) (any, error) {
		return []byte(JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, "", false
	}
	sid, _ := claims["session_id"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, "", false
	}
	u := s.userByID(sess.UserID)
	return u, sid, u != nil
}

// userByID must be called with s.mu held.
func (s *Server) userByID(id string) *user {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func userJSON(u *user) map[string]any {
	out := map[string]any{
		"id":            u.ID,
		"aud":           "authenticated",
		"role":          "authenticated",
		"email":         u.Email,
		"user_metadata": u.Metadata,
		"app_metadata":  map[string]any{"provider": "email"},
		"created_at":    u.CreatedAt,
	}
	if u.ConfirmedAt != nil {
		out["email_confirmed_at"] = *u.ConfirmedAt
	}
	return out
}

func apiError(status int, code, msg string) map[string]any {
	return map[string]any{"code": status, "error_code": code, "msg": msg}
}

func bearer(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
