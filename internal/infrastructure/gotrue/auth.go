package gotrue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
)

// Client calls the provider's public API with the anonymous key.
type Client struct {
	t   *transport
	now func() time.Time
}

// NewClient builds a Client. cfg.Key must be the publishable anonymous key.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	t, err := newTransport(cfg, log.With().Str("component", "gotrue").Logger())
	if err != nil {
		return nil, err
	}
	return &Client{t: t, now: time.Now}, nil
}

// SignInWithPassword exchanges an email and password for a session. It is
// never retried.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var resp sessionResponse
	err := c.t.do(ctx, call{
		op:     "sign_in",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   passwordGrant{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.session(c.now())
}

// RefreshSession exchanges a refresh token for a new session. Refresh tokens
// are single use, so the call is never retried.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if refreshToken == "" {
		return nil, &domain.AuthError{Kind: domain.ErrInvalidCredentials, Message: "missing refresh token"}
	}
	var resp sessionResponse
	err := c.t.do(ctx, call{
		op:     "refresh",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   refreshGrant{RefreshToken: refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.session(c.now())
}

// GetUser returns the identity that owns accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if accessToken == "" {
		return nil, &domain.AuthError{Kind: domain.ErrInvalidCredentials, Message: "missing access token"}
	}
	var user userResponse
	err := c.t.do(ctx, call{
		op:        "get_user",
		method:    http.MethodGet,
		path:      "/user",
		bearer:    accessToken,
		retryable: true,
	}, &user)
	if err != nil {
		return nil, err
	}
	return user.identity()
}

// SignOut revokes the session behind accessToken. A token the provider no
// longer knows is already signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	err := c.t.do(ctx, call{
		op:     "sign_out",
		method: http.MethodPost,
		path:   "/logout",
		bearer: accessToken,
	}, nil)
	if err != nil && domain.KindOf(err) != domain.ErrInvalidCredentials {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Health reports whether the provider answers.
func (c *Client) Health(ctx context.Context) error {
	return c.t.health(ctx)
}
