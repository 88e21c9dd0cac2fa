package ports

import (
	"context"

	"github.com/metamax/dashboard/internal/core/domain"
)

// AccountResult is the outcome of an account creation request. Existing is set
// when the email was already registered and no account was created.
type AccountResult struct {
	Identity *domain.Identity
	Existing bool
}

type AccountService interface {
	CreateAccount(ctx context.Context, in domain.NewAccount) (*AccountResult, error)
}

// AccountCreator is what a client uses to reach the account creation
// endpoint. Implementations run outside the trusted server.
type AccountCreator interface {
	CreateAccount(ctx context.Context, in domain.NewAccount) (*AccountResult, error)
}
