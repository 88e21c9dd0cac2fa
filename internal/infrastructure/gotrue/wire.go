package gotrue

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/metamax/dashboard/internal/core/domain"
)

var errMalformed = errors.New("incomplete provider payload")

type userResponse struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud"`
	Role             string         `json:"role"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (u *userResponse) identity() (*domain.Identity, error) {
	if u == nil || u.ID == "" {
		return nil, malformed(errMalformed)
	}
	name, _ := u.UserMetadata["name"].(string)
	return &domain.Identity{
		ID:             u.ID,
		Email:          u.Email,
		DisplayName:    name,
		EmailConfirmed: u.EmailConfirmedAt != nil || u.ConfirmedAt != nil,
		Role:           u.Role,
		Metadata:       u.UserMetadata,
		CreatedAt:      u.CreatedAt,
	}, nil
}

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

func (s *sessionResponse) session(now time.Time) (*domain.Session, error) {
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, malformed(errMalformed)
	}
	identity, err := s.User.identity()
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.expiry(now),
		Identity:     identity,
	}, nil
}

// expiry prefers expires_at, then expires_in, then the token's own exp claim.
func (s *sessionResponse) expiry(now time.Time) time.Time {
	switch {
	case s.ExpiresAt > 0:
		return time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		return now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return TokenExpiry(s.AccessToken)
}

// TokenExpiry reads the exp claim of a JWT without verifying it. It returns
// the zero time when the token carries none.
func TokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time.UTC()
}

func malformed(err error) error {
	return &domain.AuthError{
		Kind:    domain.ErrUnknown,
		Message: "malformed identity provider response",
		Err:     err,
	}
}

type createUserRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}
