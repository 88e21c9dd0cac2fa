// Package gotrue is a client for the hosted identity provider's REST API
// (GoTrue, as run by Supabase).
//
// AdminClient holds the service-role key and may only be built in the
// trusted server process. Client uses the publishable anonymous key and is
// safe to embed in untrusted callers. Both classify every failure into one of
// the error kinds in the domain package; provider messages are never parsed.
package gotrue

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

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/api/metrics"
	"github.com/metamax/dashboard/internal/core/domain"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRetryWait = 200 * time.Millisecond
	maxResponseBytes = 1 << 20
	apiPrefix        = "/auth/v1"
)

// ErrMissingConfig is returned by the constructors when URL or key is empty.
var ErrMissingConfig = errors.New("gotrue: url and key are required")

// Config captures the settings shared by Client and AdminClient.
type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL string
	// Key is the anonymous key for Client and the service-role key for
	// AdminClient.
	Key string
	// Timeout bounds each HTTP round trip. Defaults to 15s.
	Timeout time.Duration
	// Retries is how many times a transport failure is retried on operations
	// that are safe to repeat. Zero disables retries.
	Retries int
	// RetryWait is the initial backoff interval. Defaults to 200ms.
	RetryWait time.Duration
	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

type transport struct {
	base      *url.URL
	key       string
	http      *http.Client
	retries   int
	retryWait time.Duration
	log       zerolog.Logger
}

func newTransport(cfg Config, log zerolog.Logger) (*transport, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.Key) == "" {
		return nil, ErrMissingConfig
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid url %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = defaultRetryWait
	}

	return &transport{
		base:      base,
		key:       cfg.Key,
		http:      client,
		retries:   max(cfg.Retries, 0),
		retryWait: wait,
		log:       log,
	}, nil
}

// call describes one provider request.
type call struct {
	op        string
	method    string
	path      string
	query     url.Values
	bearer    string
	body      any
	retryable bool
	admin     bool
}

func (t *transport) do(ctx context.Context, c call, out any) error {
	start := time.Now()
	err := t.send(ctx, c, out)
	metrics.ProviderRequestDuration.
		WithLabelValues(c.op, outcome(err)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		t.log.Debug().Err(err).Str("op", c.op).Msg("provider request failed")
	}
	return err
}

func (t *transport) send(ctx context.Context, c call, out any) error {
	if !c.retryable || t.retries == 0 {
		return t.once(ctx, c, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryWait

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := t.once(ctx, c, out)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, domain.ErrNetwork) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.ProviderRetriesTotal.WithLabelValues(c.op).Inc()
			t.log.Warn().Err(err).Str("op", c.op).Dur("wait", wait).Msg("retrying provider request")
		}),
	)
	return err
}

func (t *transport) once(ctx context.Context, c call, out any) error {
	var body io.Reader
	if c.body != nil {
		buf, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, t.endpoint(c.path, c.query), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.op, err)
	}
	bearer := c.bearer
	if bearer == "" {
		bearer = t.key
	}
	req.Header.Set("apikey", t.key)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return transportError(ctx, c.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, c.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(c, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.AuthError{
			Kind:    domain.ErrUnknown,
			Status:  resp.StatusCode,
			Message: "malformed identity provider response",
			Err:     err,
		}
	}
	return nil
}

func (t *transport) endpoint(path string, query url.Values) string {
	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// health calls GET /health.
func (t *transport) health(ctx context.Context) error {
	return t.do(ctx, call{op: "health", method: http.MethodGet, path: "/health", retryable: true}, nil)
}

// transportError separates caller cancellation, which is returned untouched,
// from every other transport failure.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return &domain.AuthError{
		Kind:    domain.ErrNetwork,
		Message: "identity provider unreachable",
		Err:     err,
	}
}

func outcome(err error) string {
	switch domain.KindOf(err) {
	case nil:
		return "ok"
	case domain.ErrValidation:
		return "validation"
	case domain.ErrInvalidCredentials:
		return "invalid_credentials"
	case domain.ErrDuplicateAccount:
		return "duplicate_account"
	case domain.ErrNetwork:
		return "network"
	case domain.ErrProvider:
		return "provider"
	case context.Canceled:
		return "cancelled"
	default:
		return "unknown"
	}
}
