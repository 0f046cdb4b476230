package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if data.UserID != "user-123" {
		t.Fatalf("user = %q", data.UserID)
	}
	if data.CreatedAt.IsZero() {
		t.Fatal("created-at not stamped")
	}
}

func TestLookupExpired(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-exp", "user-456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "hash-exp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupMissing(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Lookup(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAlreadyExpired(t *testing.T) {
	store, _ := setupTestRedis(t)
	err := store.Save(context.Background(), "hash-old", "user-1", time.Now().Add(-time.Minute))
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-rev", "user-789", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Revoke(ctx, "hash-rev"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash-rev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Revoking a missing token is a no-op.
	if err := store.Revoke(ctx, "never-existed"); err != nil {
		t.Fatalf("revoke missing: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.Save(ctx, "token-1", "user-1", expiresAt); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "token-2", "user-2", expiresAt); err != nil {
		t.Fatal(err)
	}

	d1, err := store.Lookup(ctx, "token-1")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := store.Lookup(ctx, "token-2")
	if err != nil {
		t.Fatal(err)
	}
	if d1.UserID != "user-1" || d2.UserID != "user-2" {
		t.Fatalf("users = %q, %q", d1.UserID, d2.UserID)
	}
}
