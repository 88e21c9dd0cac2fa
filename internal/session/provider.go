// Package session holds the client-side authentication state of one running
// MetaMax client: who is signed in, whether a transition is in flight, and
// the tokens that prove it.
//
// A Provider is built with New, brought to a definite state with Start and
// torn down with Close. Only the Provider mutates its state; consumers read
// snapshots and subscribe to changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/metamax/dashboard/internal/api/metrics"
	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
	"github.com/metamax/dashboard/internal/infrastructure/queue"
)

const (
	DefaultStorageKey    = "metamax-auth-token"
	defaultTimeout       = 15 * time.Second
	defaultRefreshMargin = time.Minute
	defaultRetryInterval = 5 * time.Second
)

var (
	ErrClosed     = errors.New("session: provider closed")
	ErrNotStarted = errors.New("session: provider not started")
	ErrNoSession  = errors.New("session: not signed in")
)

// State is the phase of the client session.
type State int

const (
	StateInitializing State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the session. Loading is true while a
// startup check or a transition is in flight; route decisions based on
// Identity must wait until it is false.
type Snapshot struct {
	State    State
	Loading  bool
	Identity *domain.Identity
}

// Options tunes a Provider. Zero values select the defaults.
type Options struct {
	// StorageKey names the persisted session in the TokenStore.
	StorageKey string
	// Timeout bounds each provider call. Defaults to 15s.
	Timeout time.Duration
	// AutoRefresh refreshes the access token RefreshMargin before it expires.
	AutoRefresh bool
	// RefreshMargin defaults to one minute.
	RefreshMargin time.Duration
	// RetryInterval is the wait before retrying a refresh that failed on the
	// network. Defaults to 5s.
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = defaultRefreshMargin
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	return o
}

// Provider is the single source of truth for the signed-in identity. All
// mutating operations are serialized; reads never wait on network I/O.
type Provider struct {
	auth     ports.Authenticator
	accounts ports.AccountCreator
	store    ports.TokenStore
	opts     Options
	log      zerolog.Logger
	events   *queue.Dispatcher
	refresh  singleflight.Group
	now      func() time.Time

	// opMu serializes Start, SignIn, SignUp, SignOut, Refresh and Close.
	opMu    sync.Mutex
	started bool

	mu      sync.RWMutex
	snap    Snapshot
	current *domain.Session
	timer   *time.Timer
	closed  bool
}

// New builds a Provider in the Initializing state. accounts may be nil when
// the client never signs up; store defaults to a MemoryStore.
func New(auth ports.Authenticator, accounts ports.AccountCreator, store ports.TokenStore, opts Options, log zerolog.Logger) *Provider {
	if store == nil {
		store = NewMemoryStore()
	}
	log = log.With().Str("component", "session").Logger()
	return &Provider{
		auth:     auth,
		accounts: accounts,
		store:    store,
		opts:     opts.withDefaults(),
		log:      log,
		events:   queue.NewDispatcher(log),
		now:      time.Now,
		snap:     Snapshot{State: StateInitializing, Loading: true},
	}
}

// Snapshot returns the current state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Identity returns the signed-in identity, or nil.
func (p *Provider) Identity() *domain.Identity {
	return p.Snapshot().Identity
}

// Loading reports whether a check or transition is in flight.
func (p *Provider) Loading() bool {
	return p.Snapshot().Loading
}

// Session returns a copy of the current tokens, or nil when anonymous.
func (p *Provider) Session() *domain.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	s := *p.current
	return &s
}

// Subscribe registers fn for every subsequent AuthChange, delivered in order
// on a dedicated goroutine. fn may call back into the Provider; publishing
// never waits for it.
func (p *Provider) Subscribe(fn func(domain.AuthChange)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// Start resolves the Initializing state exactly once, from the persisted
// session if there is one. It always leaves the provider Authenticated or
// Anonymous.
func (p *Provider) Start(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.isClosed() {
		return ErrClosed
	}
	if p.started {
		return nil
	}
	p.started = true

	opCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	stored, err := p.store.Load(opCtx, p.opts.StorageKey)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to load stored session")
	}
	if stored == nil {
		p.apply(nil, domain.EventInitialSession)
		return nil
	}

	sess, err := p.restore(opCtx, stored)
	if err != nil {
		p.apply(nil, domain.EventInitialSession)
		switch domain.KindOf(err) {
		case domain.ErrNetwork:
			p.log.Warn().Err(err).Msg("could not verify stored session, keeping tokens for next start")
		case context.Canceled:
			return fmt.Errorf("start: %w", err)
		default:
			p.log.Info().Err(err).Msg("stored session rejected")
			p.forget(ctx)
		}
		return nil
	}

	p.persist(opCtx, sess)
	p.apply(sess, domain.EventInitialSession)
	return nil
}

func (p *Provider) restore(ctx context.Context, stored *domain.Session) (*domain.Session, error) {
	if stored.Expired(p.now(), p.opts.RefreshMargin) {
		return p.auth.RefreshSession(ctx, stored.RefreshToken)
	}

	identity, err := p.auth.GetUser(ctx, stored.AccessToken)
	if errors.Is(err, domain.ErrInvalidCredentials) && stored.RefreshToken != "" {
		return p.auth.RefreshSession(ctx, stored.RefreshToken)
	}
	if err != nil {
		return nil, err
	}
	sess := *stored
	sess.Identity = identity
	return &sess, nil
}

// SignIn authenticates with email and password. It returns ErrNotStarted
// before Start. On failure the state is unchanged and the error matches domain.ErrValidation,
// domain.ErrInvalidCredentials, domain.ErrNetwork or domain.ErrUnknown.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if domain.CredentialsMissing(email, password) {
		return domain.NewValidationError(domain.MsgCredentialsRequired)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.readyLocked(); err != nil {
		return err
	}
	return p.signInLocked(ctx, email, password)
}

func (p *Provider) signInLocked(ctx context.Context, email, password string) error {
	p.setLoading(true)

	opCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	sess, err := p.auth.SignInWithPassword(opCtx, email, password)
	if ctx.Err() != nil {
		p.setLoading(false)
		return fmt.Errorf("sign in: %w", ctx.Err())
	}
	if err != nil {
		p.setLoading(false)
		err = classify(err, domain.ErrInvalidCredentials, domain.ErrNetwork, domain.ErrValidation)
		metrics.SignInFailuresTotal.WithLabelValues(kindLabel(err)).Inc()
		p.log.Info().Err(err).Msg("sign in failed")
		return fmt.Errorf("sign in: %w", err)
	}

	p.persist(opCtx, sess)
	p.apply(sess, domain.EventSignedIn)
	return nil
}

// SignUp creates the account through the account creation endpoint and then
// signs in with the same credentials. An email that is already registered is
// not an error at the creation step; the sign-in decides.
func (p *Provider) SignUp(ctx context.Context, email, password, name string) error {
	email = strings.TrimSpace(email)
	if domain.CredentialsMissing(email, password) {
		return domain.NewValidationError(domain.MsgCredentialsRequired)
	}
	if p.accounts == nil {
		return errors.New("sign up: no account creator configured")
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.readyLocked(); err != nil {
		return err
	}

	p.setLoading(true)
	opCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	_, err := p.accounts.CreateAccount(opCtx, domain.NewAccount{Email: email, Password: password, Name: name})
	cancel()
	if ctx.Err() != nil {
		p.setLoading(false)
		return fmt.Errorf("sign up: %w", ctx.Err())
	}
	if err != nil {
		p.setLoading(false)
		return fmt.Errorf("sign up: %w", classify(err, domain.ErrValidation, domain.ErrProvider, domain.ErrDuplicateAccount, domain.ErrNetwork))
	}

	return p.signInLocked(ctx, email, password)
}

// SignOut revokes the session remotely when possible and always ends
// Anonymous with the persisted tokens removed.
func (p *Provider) SignOut(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.readyLocked(); err != nil {
		return err
	}

	sess := p.Session()
	if sess == nil {
		// Start may have kept tokens it could not verify.
		p.forget(context.WithoutCancel(ctx))
		p.apply(nil, domain.EventSignedOut)
		return nil
	}

	p.setLoading(true)
	opCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	if err := p.auth.SignOut(opCtx, sess.AccessToken); err != nil {
		p.log.Warn().Err(err).Msg("remote sign out failed, clearing local session")
	}

	p.forget(context.WithoutCancel(ctx))
	p.apply(nil, domain.EventSignedOut)
	return nil
}

// Refresh exchanges the refresh token for a new session. Concurrent callers
// share a single provider call. If the provider rejects the refresh token the
// session is over: the provider signs out and the rejection is returned.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err, _ := p.refresh.Do("refresh", func() (any, error) {
		p.opMu.Lock()
		defer p.opMu.Unlock()
		if p.isClosed() {
			return nil, ErrClosed
		}
		return nil, p.refreshLocked(ctx)
	})
	return err
}

func (p *Provider) refreshLocked(ctx context.Context) error {
	sess := p.Session()
	if sess == nil {
		return ErrNoSession
	}

	opCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	next, err := p.auth.RefreshSession(opCtx, sess.RefreshToken)
	if ctx.Err() != nil {
		return fmt.Errorf("refresh: %w", ctx.Err())
	}
	if err != nil {
		if domain.KindOf(err) == domain.ErrNetwork {
			return fmt.Errorf("refresh: %w", err)
		}
		p.log.Info().Err(err).Msg("refresh rejected, signing out")
		p.forget(opCtx)
		p.apply(nil, domain.EventSignedOut)
		return fmt.Errorf("refresh: %w", err)
	}

	p.persist(opCtx, next)
	p.apply(next, domain.EventTokenRefreshed)
	return nil
}

// AccessToken returns a usable access token, refreshing first when the
// current one is about to expire.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	sess := p.Session()
	if sess == nil {
		return "", ErrNoSession
	}
	if sess.Expired(p.now(), p.opts.RefreshMargin) {
		if err := p.Refresh(ctx); err != nil {
			return "", err
		}
		if sess = p.Session(); sess == nil {
			return "", ErrNoSession
		}
	}
	return sess.AccessToken, nil
}

// Close waits for the operation in flight, stops background refresh and
// delivers pending changes. The session itself is kept in the store.
func (p *Provider) Close() error {
	p.opMu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.opMu.Unlock()
		return nil
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.opMu.Unlock()

	// Subscribers still draining may call back in and get ErrClosed.
	p.events.Close()
	return nil
}

// readyLocked must be called with p.opMu held.
func (p *Provider) readyLocked() error {
	if p.isClosed() {
		return ErrClosed
	}
	if !p.started {
		return ErrNotStarted
	}
	return nil
}

func (p *Provider) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Provider) setLoading(loading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Loading = loading
}

// apply installs sess (nil for anonymous), clears Loading, reschedules the
// refresh timer and publishes the change.
func (p *Provider) apply(sess *domain.Session, event domain.AuthEvent) {
	p.mu.Lock()
	p.current = sess
	p.snap = Snapshot{State: StateAnonymous}
	if sess != nil {
		p.snap = Snapshot{State: StateAuthenticated, Identity: sess.Identity}
	}
	p.scheduleLocked(sess)
	change := domain.AuthChange{Event: event, Identity: p.snap.Identity}
	p.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(string(event)).Inc()
	p.log.Debug().Str("event", string(event)).Bool("authenticated", sess != nil).Msg("session changed")
	p.events.Publish(change)
}

// scheduleLocked must be called with p.mu held.
func (p *Provider) scheduleLocked(sess *domain.Session) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if sess == nil || !p.opts.AutoRefresh || p.closed || sess.ExpiresAt.IsZero() {
		return
	}
	wait := max(sess.ExpiresAt.Sub(p.now())-p.opts.RefreshMargin, 0)
	p.timer = time.AfterFunc(wait, p.autoRefresh)
}

func (p *Provider) autoRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	p.mu.RLock()
	refreshing := p.current
	p.mu.RUnlock()

	err := p.Refresh(ctx)
	if err == nil || domain.KindOf(err) != domain.ErrNetwork {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A transition since the refresh started has scheduled its own timer.
	if p.closed || p.current == nil || p.current != refreshing {
		return
	}
	p.log.Warn().Err(err).Dur("retry_in", p.opts.RetryInterval).Msg("token refresh failed")
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.opts.RetryInterval, p.autoRefresh)
}

func (p *Provider) persist(ctx context.Context, sess *domain.Session) {
	if err := p.store.Save(ctx, p.opts.StorageKey, sess); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (p *Provider) forget(ctx context.Context) {
	if err := p.store.Delete(ctx, p.opts.StorageKey); err != nil {
		p.log.Warn().Err(err).Msg("failed to delete stored session")
	}
}

// classify keeps err when its kind is one of allowed and otherwise reports it
// as domain.ErrUnknown, preserving the caller-safe message.
func classify(err error, allowed ...error) error {
	kind := domain.KindOf(err)
	for _, k := range allowed {
		if kind == k {
			return err
		}
	}
	if kind == context.Canceled {
		return err
	}
	out := &domain.AuthError{Kind: domain.ErrUnknown}
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		out.Code = ae.Code
		out.Status = ae.Status
	}
	return out
}

func kindLabel(err error) string {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return "validation"
	case domain.ErrInvalidCredentials:
		return "invalid_credentials"
	case domain.ErrNetwork:
		return "network"
	default:
		return "unknown"
	}
}
