// Package client calls the MetaMax HTTP API from untrusted processes such as
// the CLI. It never holds the service role key.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/api/handler"
	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
)

const (
	defaultTimeout = 15 * time.Second
	maxBody        = 1 << 20
	msgExisting    = "User already exists"
)

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// New returns a client for the API at baseURL.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api client: invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}, log: log}, nil
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signupResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	User    *domain.Identity `json:"user"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateAccount posts to /api/signup. Its errors carry the same kinds the
// server classified them with.
func (c *Client) CreateAccount(ctx context.Context, in domain.NewAccount) (*ports.AccountResult, error) {
	var resp signupResponse
	err := c.do(ctx, http.MethodPost, "/api/signup", "", signupRequest{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if !resp.Success {
		return nil, &domain.AuthError{Kind: domain.ErrUnknown, Message: "unexpected signup response"}
	}
	return &ports.AccountResult{Identity: resp.User, Existing: resp.Message == msgExisting}, nil
}

// PublicConfig fetches the provider URL and publishable key.
func (c *Client) PublicConfig(ctx context.Context) (*handler.PublicConfig, error) {
	var cfg handler.PublicConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", "", nil, &cfg); err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, &domain.AuthError{Kind: domain.ErrUnknown, Message: "incomplete client configuration"}
	}
	return &cfg, nil
}

// Summary is the dashboard headline for the signed-in user.
type Summary struct {
	User    *domain.Identity `json:"user"`
	Summary struct {
		TotalCampaigns  int     `json:"total_campaigns"`
		ActiveCampaigns int     `json:"active_campaigns"`
		TotalSpend      float64 `json:"total_spend"`
		Impressions     int64   `json:"impressions"`
		Clicks          int64   `json:"clicks"`
		CTR             float64 `json:"ctr"`
	} `json:"summary"`
}

// DashboardSummary calls the authenticated summary endpoint.
func (c *Client) DashboardSummary(ctx context.Context, accessToken string) (*Summary, error) {
	var s Summary
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/summary", accessToken, nil, &s); err != nil {
		return nil, fmt.Errorf("dashboard summary: %w", err)
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return &domain.AuthError{Kind: domain.ErrNetwork, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return &domain.AuthError{Kind: domain.ErrNetwork, Err: err}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &domain.AuthError{Kind: domain.ErrUnknown, Status: res.StatusCode, Message: "malformed API response", Err: err}
		}
		return nil
	}

	c.log.Debug().Str("path", path).Int("status", res.StatusCode).Msg("api request failed")
	return decodeError(res.StatusCode, raw)
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	ae := &domain.AuthError{Status: status, Code: body.Code, Message: body.Error}
	switch {
	case body.Code == handler.CodeValidation || body.Code == handler.CodeInvalidPayload:
		ae.Kind = domain.ErrValidation
	case body.Code == handler.CodeProviderRejected:
		ae.Kind = domain.ErrProvider
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ae.Kind = domain.ErrInvalidCredentials
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		ae.Kind = domain.ErrNetwork
	default:
		ae.Kind = domain.ErrUnknown
	}
	return ae
}
