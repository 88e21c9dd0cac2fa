package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metamax/dashboard/internal/core/domain"
)

const (
	keyPrefix  = "metamax:session:"
	DefaultTTL = 30 * 24 * time.Hour
)

// TokenStore keeps a client's session in Redis so several processes on one
// host can share it.
// Key format: metamax:session:<storage_key>
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore wraps client. A non-positive ttl selects DefaultTTL.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenStore{client: client, ttl: ttl}
}

// Load returns the stored session or nil when the key is absent.
func (s *TokenStore) Load(ctx context.Context, key string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Save overwrites the stored session (expires after the store's ttl).
func (s *TokenStore) Save(ctx context.Context, key string, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
