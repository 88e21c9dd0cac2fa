package ports

import (
	"context"

	"github.com/metamax/dashboard/internal/core/domain"
)

// AccountAdmin is the privileged side of the identity provider. It must only
// be constructed inside the server process that holds the service key.
type AccountAdmin interface {
	CreateUser(ctx context.Context, in domain.NewAccount) (*domain.Identity, error)
}

// Authenticator is the public side of the identity provider, usable with the
// publishable key from untrusted clients.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	GetUser(ctx context.Context, accessToken string) (*domain.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
}

// HealthChecker reports whether the identity provider answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}
