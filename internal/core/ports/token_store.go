package ports

import (
	"context"

	"github.com/metamax/dashboard/internal/core/domain"
)

// TokenStore persists the client's own session between runs. Load returns
// (nil, nil) when nothing is stored under key.
type TokenStore interface {
	Load(ctx context.Context, key string) (*domain.Session, error)
	Save(ctx context.Context, key string, s *domain.Session) error
	Delete(ctx context.Context, key string) error
}
