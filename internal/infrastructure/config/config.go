package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the server configuration. The three Supabase settings are
// required; the service role key never leaves the server process.
type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Supabase SupabaseConfig
	Auth     AuthConfig
	Redis    RedisConfig
}

type SupabaseConfig struct {
	URL            string `env:"SUPABASE_URL,              required"`
	AnonKey        string `env:"SUPABASE_ANON_KEY,         required"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY, required"`
	// JWTSecret enables local verification of bearer tokens. Without it the
	// provider is asked about every token.
	JWTSecret string `env:"SUPABASE_JWT_SECRET"`
}

type AuthConfig struct {
	Timeout   time.Duration `env:"AUTH_TIMEOUT,    default=15s"`
	Retries   int           `env:"AUTH_RETRIES,    default=1"`
	RetryWait time.Duration `env:"AUTH_RETRY_WAIT, default=200ms"`
}

// RedisConfig is optional: an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

// ClientConfig configures the metamax CLI. Supabase URL and anon key may be
// left empty; the CLI then asks the API for them.
type ClientConfig struct {
	APIURL     string `env:"METAMAX_API_URL,     default=http://localhost:8080"`
	SessionDir string `env:"METAMAX_SESSION_DIR"`
	LogLevel   string `env:"LOG_LEVEL,           default=warn"`

	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	Auth  AuthConfig
	Redis RedisConfig
}

// Load reads the server configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := process(ctx, &cfg, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads the CLI configuration from the environment.
func LoadClient(ctx context.Context) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := process(ctx, &cfg, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func process(ctx context.Context, target any, l envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: target, Lookuper: l}); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the server runs with development defaults
// such as pretty logs.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
