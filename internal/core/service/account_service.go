package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/api/metrics"
	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
)

// AccountService creates pre-confirmed accounts through the provider's admin
// API. A second request for an already registered email succeeds without
// creating anything.
type AccountService struct {
	admin ports.AccountAdmin
	log   zerolog.Logger
}

func NewAccountService(admin ports.AccountAdmin, log zerolog.Logger) *AccountService {
	return &AccountService{admin: admin, log: log}
}

// CreateAccount validates the request and forwards it to the provider.
func (s *AccountService) CreateAccount(ctx context.Context, in domain.NewAccount) (*ports.AccountResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if domain.CredentialsMissing(in.Email, in.Password) {
		metrics.SignupsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.NewValidationError(domain.MsgCredentialsRequired)
	}

	identity, err := s.admin.CreateUser(ctx, in)
	switch {
	case err == nil:
		metrics.SignupsTotal.WithLabelValues("created").Inc()
		s.log.Info().Str("user_id", identity.ID).Msg("account created")
		return &ports.AccountResult{Identity: identity}, nil

	case errors.Is(err, domain.ErrDuplicateAccount):
		metrics.SignupsTotal.WithLabelValues("existing").Inc()
		s.log.Info().Msg("account already registered, treating as success")
		return &ports.AccountResult{Existing: true}, nil

	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrValidation):
		metrics.SignupsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("create account: %w", err)

	default:
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create account: %w", err)
	}
}
