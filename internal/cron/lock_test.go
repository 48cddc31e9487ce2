package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/shopbot-backend/pkg/redis"
)

func newLockClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return redis.NewFromClient(raw), srv
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	client, _ := newLockClient(t)
	key := client.LockKey("cron")

	first, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("non-owner release must not free the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	client, srv := newLockClient(t)
	key := client.LockKey("cron")

	crashed, _ := NewRedisLock(client, key, time.Minute)
	if ok, _ := crashed.Acquire(ctx); !ok {
		t.Fatalf("expected acquire")
	}
	srv.FastForward(2 * time.Minute)

	next, _ := NewRedisLock(client, key, time.Minute)
	if ok, err := next.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected acquire after ttl, ok=%v err=%v", ok, err)
	}
	if err := crashed.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if value := srv.Exists(key); !value {
		t.Fatalf("stale owner must not delete the new owner's lock")
	}
}

func TestRedisLockReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client, srv := newLockClient(t)
	key := client.LockKey("cron-worker:dev")

	lock, _ := NewRedisLock(client, key, time.Minute)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("expected acquire")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	if srv.Exists(key) {
		t.Fatalf("lock key should be gone")
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	if _, err := NewRedisLock(nil, "key", time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client, _ := newLockClient(t)
	if _, err := NewRedisLock(client, "", time.Minute); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
