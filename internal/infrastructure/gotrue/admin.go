package gotrue

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
)

// AdminClient calls the provider's administrative API with the service-role
// key.
type AdminClient struct {
	t *transport
}

// NewAdminClient builds an AdminClient. cfg.Key must be the service-role key.
func NewAdminClient(cfg Config, log zerolog.Logger) (*AdminClient, error) {
	t, err := newTransport(cfg, log.With().Str("component", "gotrue_admin").Logger())
	if err != nil {
		return nil, err
	}
	return &AdminClient{t: t}, nil
}

// CreateUser registers an account that is already marked as email-confirmed
// and stores in.Name as user metadata. A transport failure is retried since
// a duplicate on the second attempt is reported as ErrDuplicateAccount.
func (a *AdminClient) CreateUser(ctx context.Context, in domain.NewAccount) (*domain.Identity, error) {
	var user userResponse
	err := a.t.do(ctx, call{
		op:     "create_user",
		method: http.MethodPost,
		path:   "/admin/users",
		body: createUserRequest{
			Email:        in.Email,
			Password:     in.Password,
			EmailConfirm: true,
			UserMetadata: map[string]any{"name": in.Name},
		},
		retryable: true,
		admin:     true,
	}, &user)
	if err != nil {
		return nil, err
	}
	return user.identity()
}

// Health reports whether the provider answers.
func (a *AdminClient) Health(ctx context.Context) error {
	return a.t.health(ctx)
}
