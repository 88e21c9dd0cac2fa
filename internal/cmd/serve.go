package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/metamax/dashboard/internal/api"
	"github.com/metamax/dashboard/internal/api/handler"
	"github.com/metamax/dashboard/internal/core/service"
	"github.com/metamax/dashboard/internal/infrastructure/config"
	"github.com/metamax/dashboard/internal/infrastructure/db/redis"
	"github.com/metamax/dashboard/internal/infrastructure/gotrue"
	"github.com/metamax/dashboard/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long: `Run the MetaMax API server.

Requires SUPABASE_URL, SUPABASE_ANON_KEY and SUPABASE_SERVICE_ROLE_KEY.

Examples:
  PORT=8080 metamax serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "metamax-api",
	})

	gotrueCfg := gotrue.Config{
		URL:       cfg.Supabase.URL,
		Timeout:   cfg.Auth.Timeout,
		Retries:   cfg.Auth.Retries,
		RetryWait: cfg.Auth.RetryWait,
	}
	adminCfg := gotrueCfg
	adminCfg.Key = cfg.Supabase.ServiceRoleKey
	admin, err := gotrue.NewAdminClient(adminCfg, logger.For("gotrue_admin"))
	if err != nil {
		return fmt.Errorf("admin client: %w", err)
	}
	publicCfg := gotrueCfg
	publicCfg.Key = cfg.Supabase.AnonKey
	users, err := gotrue.NewClient(publicCfg, logger.For("gotrue"))
	if err != nil {
		return fmt.Errorf("auth client: %w", err)
	}

	checks := map[string]handler.Check{"identity_provider": admin.Health}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		checks["redis"] = redis.Pinger{Client: rdb}.Ping
	}

	if cfg.Supabase.JWTSecret == "" {
		log.Warn().Msg("SUPABASE_JWT_SECRET not set, bearer tokens are verified by the identity provider")
	}

	e := api.NewRouter(api.Deps{
		Accounts:  service.NewAccountService(admin, logger.For("accounts")),
		Users:     users,
		JWTSecret: cfg.Supabase.JWTSecret,
		Public:    handler.PublicConfig{URL: cfg.Supabase.URL, AnonKey: cfg.Supabase.AnonKey},
		Checks:    checks,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
