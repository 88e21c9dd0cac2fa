package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
)

type stubAccountAdmin struct {
	users map[string]*domain.Identity
	err   error
	calls int
}

func newStubAccountAdmin() *stubAccountAdmin {
	return &stubAccountAdmin{users: make(map[string]*domain.Identity)}
}

func (a *stubAccountAdmin) CreateUser(_ context.Context, in domain.NewAccount) (*domain.Identity, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if _, exists := a.users[in.Email]; exists {
		return nil, &domain.AuthError{Kind: domain.ErrDuplicateAccount, Code: "email_exists", Status: 422}
	}
	identity := &domain.Identity{ID: "user-" + in.Email, Email: in.Email, DisplayName: in.Name, EmailConfirmed: true}
	a.users[in.Email] = identity
	return identity, nil
}

func TestAccountService_CreateAccount_Success(t *testing.T) {
	admin := newStubAccountAdmin()
	svc := NewAccountService(admin, zerolog.Nop())

	res, err := svc.CreateAccount(context.Background(), domain.NewAccount{Email: " alice@example.com ", Password: "secret1", Name: " Alice "})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if res.Existing {
		t.Fatalf("expected a new account")
	}
	if res.Identity == nil || res.Identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", res.Identity)
	}
	if res.Identity.DisplayName != "Alice" {
		t.Fatalf("expected trimmed name, got %q", res.Identity.DisplayName)
	}
	if !res.Identity.EmailConfirmed {
		t.Fatalf("expected account to be pre-confirmed")
	}
}

func TestAccountService_CreateAccount_MissingFields(t *testing.T) {
	admin := newStubAccountAdmin()
	svc := NewAccountService(admin, zerolog.Nop())

	cases := []domain.NewAccount{
		{Email: "", Password: "secret1"},
		{Email: "a@b.com", Password: ""},
		{Email: "   ", Password: "secret1"},
	}
	for _, in := range cases {
		_, err := svc.CreateAccount(context.Background(), in)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", in, err)
		}
		if domain.MessageOf(err) != domain.MsgCredentialsRequired {
			t.Fatalf("unexpected message: %q", domain.MessageOf(err))
		}
	}
	if admin.calls != 0 {
		t.Fatalf("provider must not be called for invalid input, got %d calls", admin.calls)
	}
}

func TestAccountService_CreateAccount_DuplicateIsIdempotent(t *testing.T) {
	admin := newStubAccountAdmin()
	svc := NewAccountService(admin, zerolog.Nop())

	in := domain.NewAccount{Email: "bob@example.com", Password: "secret1"}
	if _, err := svc.CreateAccount(context.Background(), in); err != nil {
		t.Fatalf("first CreateAccount failed: %v", err)
	}
	res, err := svc.CreateAccount(context.Background(), in)
	if err != nil {
		t.Fatalf("expected duplicate to succeed, got %v", err)
	}
	if !res.Existing || res.Identity != nil {
		t.Fatalf("expected existing result without identity, got %+v", res)
	}
	if len(admin.users) != 1 {
		t.Fatalf("expected exactly one account, got %d", len(admin.users))
	}
}

func TestAccountService_CreateAccount_ProviderRejection(t *testing.T) {
	admin := newStubAccountAdmin()
	admin.err = &domain.AuthError{Kind: domain.ErrValidation, Code: "weak_password", Status: 422, Message: "Password should be at least 6 characters."}
	svc := NewAccountService(admin, zerolog.Nop())

	_, err := svc.CreateAccount(context.Background(), domain.NewAccount{Email: "c@example.com", Password: "123"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if domain.MessageOf(err) != "Password should be at least 6 characters." {
		t.Fatalf("expected provider message to survive wrapping, got %q", domain.MessageOf(err))
	}
}

func TestAccountService_CreateAccount_UnexpectedFailure(t *testing.T) {
	admin := newStubAccountAdmin()
	admin.err = &domain.AuthError{Kind: domain.ErrNetwork}
	svc := NewAccountService(admin, zerolog.Nop())

	_, err := svc.CreateAccount(context.Background(), domain.NewAccount{Email: "d@example.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
