package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "shopbot"

// IdempotencyStore keeps captured responses for replayed purchase and
// redelivery requests.
type IdempotencyStore interface {
	IdempotencyKey(scope, key string) string
	LoadResponse(ctx context.Context, key string) (string, bool, error)
	SaveResponse(ctx context.Context, key, record string, ttl time.Duration) (bool, error)
}

// INCR and the first PEXPIRE run as one script so a window can never be left
// without a TTL.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

// Deleting only when the stored owner matches keeps a worker whose lock
// expired from releasing its successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// FixedWindowAllow counts one hit against scope and reports whether the
// window still admits it.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c == nil || c.raw == nil {
		return false, 0, errNotInitialized
	}
	count, err := windowScript.Run(ctx, c.raw, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// LoadResponse returns the stored record, or false when none exists.
func (c *Client) LoadResponse(ctx context.Context, key string) (string, bool, error) {
	if c == nil || c.raw == nil {
		return "", false, errNotInitialized
	}
	value, err := c.raw.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SaveResponse stores record unless a concurrent request got there first.
func (c *Client) SaveResponse(ctx context.Context, key, record string, ttl time.Duration) (bool, error) {
	if c == nil || c.raw == nil {
		return false, errNotInitialized
	}
	return c.raw.SetNX(ctx, key, record, ttl).Result()
}

func (c *Client) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if c == nil || c.raw == nil {
		return false, errNotInitialized
	}
	return c.raw.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock deletes key if owner still holds it and reports whether it did.
func (c *Client) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	if c == nil || c.raw == nil {
		return false, errNotInitialized
	}
	n, err := releaseScript.Run(ctx, c.raw, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) IdempotencyKey(scope, key string) string {
	return buildKey("idempotency", scope, key)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey("rate_limit", scope)
}

func (c *Client) LockKey(name string) string {
	return buildKey("lock", name)
}

func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, ":")
}
