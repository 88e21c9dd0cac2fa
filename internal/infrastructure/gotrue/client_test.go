package gotrue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/infrastructure/gotrue/gotruetest"
)

func newAdmin(t *testing.T, srv *gotruetest.Server, retries int) *AdminClient {
	t.Helper()
	a, err := NewAdminClient(Config{
		URL:       srv.URL,
		Key:       gotruetest.ServiceKey,
		Timeout:   2 * time.Second,
		Retries:   retries,
		RetryWait: time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAdminClient: %v", err)
	}
	return a
}

func newPublic(t *testing.T, srv *gotruetest.Server, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:       srv.URL,
		Key:       gotruetest.AnonKey,
		Timeout:   2 * time.Second,
		Retries:   retries,
		RetryWait: time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_MissingConfig(t *testing.T) {
	if _, err := NewClient(Config{URL: "https://example.supabase.co"}, zerolog.Nop()); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if _, err := NewAdminClient(Config{Key: "k"}, zerolog.Nop()); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if _, err := NewClient(Config{URL: "not a url", Key: "k"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestAdminClient_CreateUser_Success(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	admin := newAdmin(t, srv, 0)

	identity, err := admin.CreateUser(context.Background(), domain.NewAccount{Email: "a@b.com", Password: "secret1", Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if identity.ID == "" {
		t.Fatalf("expected id")
	}
	if identity.Email != "a@b.com" {
		t.Fatalf("unexpected email: %s", identity.Email)
	}
	if !identity.EmailConfirmed {
		t.Fatalf("expected account to be email-confirmed")
	}
	if identity.DisplayName != "Ada" {
		t.Fatalf("expected display name Ada, got %q", identity.DisplayName)
	}
}

func TestAdminClient_CreateUser_Duplicate(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.Seed("a@b.com", "secret1", "")
	admin := newAdmin(t, srv, 0)

	_, err := admin.CreateUser(context.Background(), domain.NewAccount{Email: "A@B.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	var ae *domain.AuthError
	if !errors.As(err, &ae) || ae.Code != "email_exists" || ae.Status != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected error detail: %+v", ae)
	}
}

func TestAdminClient_CreateUser_WeakPassword(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	admin := newAdmin(t, srv, 0)

	_, err := admin.CreateUser(context.Background(), domain.NewAccount{Email: "a@b.com", Password: "123"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if msg := domain.MessageOf(err); msg != "Password should be at least 6 characters." {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestAdminClient_RejectsPublishableKey(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	admin, err := NewAdminClient(Config{URL: srv.URL, Key: gotruetest.AnonKey}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAdminClient: %v", err)
	}

	_, err = admin.CreateUser(context.Background(), domain.NewAccount{Email: "a@b.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("expected ErrUnknown for a refused service key, got %v", err)
	}
}

func TestAdminClient_CreateUser_RetriesTransientFailure(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.FailNext(1, http.StatusServiceUnavailable, "")
	admin := newAdmin(t, srv, 1)

	if _, err := admin.CreateUser(context.Background(), domain.NewAccount{Email: "a@b.com", Password: "secret1"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if hits := srv.Hits("/auth/v1/admin/users"); hits != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits)
	}
}

func TestAdminClient_CreateUser_NoRetryWhenDisabled(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.FailNext(1, http.StatusServiceUnavailable, "")
	admin := newAdmin(t, srv, 0)

	_, err := admin.CreateUser(context.Background(), domain.NewAccount{Email: "a@b.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if srv.UserCount() != 0 {
		t.Fatalf("expected no user to be created")
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := gotruetest.New()
	c := newPublic(t, srv, 0)
	srv.Close()

	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.SetLatency(500 * time.Millisecond)
	c, err := NewClient(Config{URL: srv.URL, Key: gotruetest.AnonKey, Timeout: 50 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork on timeout, got %v", err)
	}
}

func TestClient_CallerCancellation(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.SetLatency(500 * time.Millisecond)
	c := newPublic(t, srv, 1)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.GetUser(ctx, "token")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClient_SignInWithPassword(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	id := srv.Seed("a@b.com", "secret1", "Ada")
	c := newPublic(t, srv, 0)

	sess, err := c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", sess)
	}
	if sess.Identity.ID != id || sess.Identity.Email != "a@b.com" {
		t.Fatalf("unexpected identity: %+v", sess.Identity)
	}
	if sess.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expected expiry in the future, got %v", sess.ExpiresAt)
	}
}

func TestClient_SignInWithPassword_InvalidCredentials(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.Seed("a@b.com", "secret1", "")
	c := newPublic(t, srv, 0)

	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "wrong-pass")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestClient_SignInWithPassword_NotRetried(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.Seed("a@b.com", "secret1", "")
	srv.FailNext(1, http.StatusBadGateway, "")
	c := newPublic(t, srv, 3)

	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if hits := srv.Hits("/auth/v1/token"); hits != 1 {
		t.Fatalf("sign-in must not be retried, got %d attempts", hits)
	}
}

func TestClient_RefreshSession_RotatesToken(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.Seed("a@b.com", "secret1", "")
	c := newPublic(t, srv, 0)
	ctx := context.Background()

	first, err := c.SignInWithPassword(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	second, err := c.RefreshSession(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := c.RefreshSession(ctx, first.RefreshToken); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}
}

func TestClient_GetUserAndSignOut(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	srv.Seed("a@b.com", "secret1", "Ada")
	c := newPublic(t, srv, 0)
	ctx := context.Background()

	sess, err := c.SignInWithPassword(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	identity, err := c.GetUser(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if identity.DisplayName != "Ada" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if err := c.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := c.GetUser(ctx, sess.AccessToken); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
	if err := c.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("second SignOut should be a no-op, got %v", err)
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": 12`))
	}))
	defer ts.Close()
	c, err := NewClient(Config{URL: ts.URL, Key: "k"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestClient_IncompleteSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","refresh_token":"def"}`))
	}))
	defer ts.Close()
	c, err := NewClient(Config{URL: ts.URL, Key: "k"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("expected ErrUnknown for a session without user, got %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	srv := gotruetest.New()
	defer srv.Close()
	if err := newPublic(t, srv, 0).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := TokenExpiry(token); !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
	if got := TokenExpiry("not-a-jwt"); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}
