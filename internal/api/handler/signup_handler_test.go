package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
)

type stubAccountService struct {
	createFn func(ctx context.Context, in domain.NewAccount) (*ports.AccountResult, error)
	calls    int
}

func (s *stubAccountService) CreateAccount(ctx context.Context, in domain.NewAccount) (*ports.AccountResult, error) {
	s.calls++
	return s.createFn(ctx, in)
}

func postSignup(t *testing.T, stub *stubAccountService, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	e.Validator = NewValidator()
	h := NewSignupHandler(stub, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Signup(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return rec, resp
}

func TestSignupHandler_Success(t *testing.T) {
	stub := &stubAccountService{
		createFn: func(_ context.Context, in domain.NewAccount) (*ports.AccountResult, error) {
			if in.Email != "alice@example.com" || in.Name != "Alice" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &ports.AccountResult{Identity: &domain.Identity{
				ID:             "user-1",
				Email:          in.Email,
				EmailConfirmed: true,
				Metadata:       map[string]any{"name": in.Name},
			}}, nil
		},
	}

	rec, resp := postSignup(t, stub, `{"email":"alice@example.com","password":"secret1","name":"Alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp["success"] != true || resp["message"] != "User created successfully" {
		t.Fatalf("unexpected body: %v", resp)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user in response")
	}
	if user["id"] != "user-1" || user["email"] != "alice@example.com" || user["email_confirmed"] != true {
		t.Fatalf("unexpected user payload: %v", user)
	}
}

func TestSignupHandler_NameDefaultsToEmpty(t *testing.T) {
	stub := &stubAccountService{
		createFn: func(_ context.Context, in domain.NewAccount) (*ports.AccountResult, error) {
			if in.Name != "" {
				t.Fatalf("expected empty name, got %q", in.Name)
			}
			return &ports.AccountResult{Identity: &domain.Identity{ID: "u", Email: in.Email}}, nil
		},
	}
	if rec, _ := postSignup(t, stub, `{"email":"a@b.com","password":"secret1"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSignupHandler_MissingFields(t *testing.T) {
	bodies := []string{
		`{"password":"secret1"}`,
		`{"email":"a@b.com"}`,
		`{"email":"   ","password":"secret1"}`,
		`{"email":"a@b.com","password":"   "}`,
		`{}`,
	}
	for _, body := range bodies {
		stub := &stubAccountService{}
		rec, resp := postSignup(t, stub, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if resp["error"] != "Email and password required" {
			t.Fatalf("%s: unexpected error: %v", body, resp["error"])
		}
		if stub.calls != 0 {
			t.Fatalf("%s: provider must not be contacted", body)
		}
	}
}

func TestSignupHandler_ErrorBodyShape(t *testing.T) {
	rec, _ := postSignup(t, &stubAccountService{}, `{"email":"a@b.com","password":""}`)
	want := `{"error":"Email and password required","code":"validation_failed"}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("expected body %s, got %s", want, got)
	}
}

func TestSignupHandler_InvalidEmail(t *testing.T) {
	stub := &stubAccountService{}
	rec, resp := postSignup(t, stub, `{"email":"not-an-email","password":"secret1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp["error"] != "email must be a valid email" {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	if stub.calls != 0 {
		t.Fatalf("provider must not be contacted")
	}
}

func TestSignupHandler_MalformedJSON(t *testing.T) {
	rec, resp := postSignup(t, &stubAccountService{}, `{"email":`)
	if rec.Code != http.StatusBadRequest || resp["error"] != "invalid payload" {
		t.Fatalf("expected 400 invalid payload, got %d %v", rec.Code, resp)
	}
}

func TestSignupHandler_ExistingAccount(t *testing.T) {
	stub := &stubAccountService{
		createFn: func(context.Context, domain.NewAccount) (*ports.AccountResult, error) {
			return &ports.AccountResult{Existing: true}, nil
		},
	}
	rec, resp := postSignup(t, stub, `{"email":"a@b.com","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp["success"] != true || resp["message"] != "User already exists" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if _, ok := resp["user"]; ok {
		t.Fatalf("existing account must not echo a user")
	}
}

func TestSignupHandler_ProviderRejection(t *testing.T) {
	stub := &stubAccountService{
		createFn: func(context.Context, domain.NewAccount) (*ports.AccountResult, error) {
			return nil, &domain.AuthError{Kind: domain.ErrValidation, Code: "weak_password", Status: 422, Message: "Password should be at least 6 characters."}
		},
	}
	rec, resp := postSignup(t, stub, `{"email":"a@b.com","password":"123"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp["error"] != "Password should be at least 6 characters." {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
}

func TestSignupHandler_UnexpectedFailure(t *testing.T) {
	cases := map[string]error{
		"network": &domain.AuthError{Kind: domain.ErrNetwork, Err: errors.New("dial tcp 10.0.0.1:443: connection refused")},
		"unknown": errors.New("decode response: unexpected EOF"),
	}
	for name, cause := range cases {
		stub := &stubAccountService{
			createFn: func(context.Context, domain.NewAccount) (*ports.AccountResult, error) { return nil, cause },
		}
		rec, resp := postSignup(t, stub, `{"email":"a@b.com","password":"secret1"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rec.Code)
		}
		if resp["error"] != "Internal server error" {
			t.Fatalf("%s: cause leaked to client: %v", name, resp["error"])
		}
	}
}
