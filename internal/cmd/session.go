package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/metamax/dashboard/internal/api/client"
	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
	"github.com/metamax/dashboard/internal/infrastructure/config"
	"github.com/metamax/dashboard/internal/infrastructure/db/redis"
	"github.com/metamax/dashboard/internal/infrastructure/gotrue"
	"github.com/metamax/dashboard/internal/infrastructure/tokenfile"
	"github.com/metamax/dashboard/internal/session"
	"github.com/metamax/dashboard/pkg/logger"
)

// clientSession is everything a session command needs. close releases it.
type clientSession struct {
	provider *session.Provider
	api      *client.Client
	close    func()
}

func openSession(ctx context.Context, stderr io.Writer) (*clientSession, error) {
	cfg, err := config.LoadClient(ctx)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: true, Output: stderr, Service: "metamax-cli"})
	log := logger.For("cli")

	api, err := client.New(cfg.APIURL, cfg.Auth.Timeout, log)
	if err != nil {
		return nil, err
	}

	providerURL, anonKey := cfg.SupabaseURL, cfg.SupabaseAnonKey
	if providerURL == "" || anonKey == "" {
		pub, err := api.PublicConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s", domain.UserMessage(err))
		}
		providerURL, anonKey = pub.URL, pub.AnonKey
	}

	auth, err := gotrue.NewClient(gotrue.Config{
		URL:       providerURL,
		Key:       anonKey,
		Timeout:   cfg.Auth.Timeout,
		Retries:   cfg.Auth.Retries,
		RetryWait: cfg.Auth.RetryWait,
	}, logger.For("gotrue"))
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openTokenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := session.New(auth, api, store, session.Options{Timeout: cfg.Auth.Timeout}, logger.For("session"))
	p.Subscribe(func(c domain.AuthChange) {
		log.Debug().Str("event", string(c.Event)).Bool("signed_in", c.Identity != nil).Msg("auth state changed")
	})
	if err := p.Start(ctx); err != nil {
		_ = p.Close()
		closeStore()
		return nil, err
	}

	return &clientSession{
		provider: p,
		api:      api,
		close: func() {
			_ = p.Close()
			closeStore()
		},
	}, nil
}

func openTokenStore(ctx context.Context, cfg *config.ClientConfig) (ports.TokenStore, func(), error) {
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, nil, err
		}
		return redis.NewTokenStore(rdb, 0), func() { _ = rdb.Close() }, nil
	}

	dir := cfg.SessionDir
	if dir == "" {
		var err error
		if dir, err = tokenfile.DefaultDir(); err != nil {
			return nil, nil, err
		}
	}
	return tokenfile.New(dir), func() {}, nil
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, fn func(*clientSession) error) error {
	s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

// userFacing turns an auth failure into the single line shown to the user.
func userFacing(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", domain.UserMessage(err))
}
