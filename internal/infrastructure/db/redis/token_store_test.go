package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/metamax/dashboard/internal/core/domain"
)

func newTestStore(t *testing.T, ttl time.Duration) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, ttl), mr
}

func TestTokenStore_RoundTrip(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess := &domain.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    time.Unix(1700000000, 0).UTC(),
		Identity:     &domain.Identity{ID: "u1", Email: "a@b.com"},
	}
	if err := store.Save(ctx, "client", sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("metamax:session:client") {
		t.Fatalf("expected prefixed key to exist")
	}
	if ttl := mr.TTL("metamax:session:client"); ttl != time.Hour {
		t.Fatalf("expected ttl of one hour, got %s", ttl)
	}

	got, err := store.Load(ctx, "client")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RefreshToken != "refresh" || got.Identity.Email != "a@b.com" || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestTokenStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t, 0)
	got, err := store.Load(context.Background(), "nobody")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestTokenStore_Delete(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	_ = store.Save(ctx, "client", &domain.Session{AccessToken: "a", RefreshToken: "r"})
	if err := store.Delete(ctx, "client"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("metamax:session:client") {
		t.Fatalf("expected key to be removed")
	}
	if err := store.Delete(ctx, "client"); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}
}

func TestTokenStore_CorruptValue(t *testing.T) {
	store, mr := newTestStore(t, 0)
	_ = mr.Set("metamax:session:client", "not json")
	if _, err := store.Load(context.Background(), "client"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTokenStore_ServerDown(t *testing.T) {
	store, mr := newTestStore(t, 0)
	mr.Close()
	if _, err := store.Load(context.Background(), "client"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}

func TestPinger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := (Pinger{Client: client}).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := (Pinger{Client: client}).Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail after shutdown")
	}
}
