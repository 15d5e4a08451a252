// Package kv wraps the ephemeral key-value store (Redis) used by the
// Protection Layer's sliding-window counters and ban records, and by the
// Session Manager's per-subscriber admission lock. All TTL semantics live
// here so a single-process fallback could satisfy the same contract.
package kv

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the narrow interface the rest of the core depends on, letting
// tests substitute an in-memory fake without pulling in a real Redis.
type Store interface {
	// SlidingWindowCount evicts entries older than window from the
	// key's sorted set, adds the current timestamp, and returns the
	// resulting count within the window.
	SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)

	// SetBan writes a ban record with the given TTL.
	SetBan(ctx context.Context, key, reason string, ttl time.Duration) error

	// GetBan returns the ban reason and remaining TTL, or ok=false if
	// unbanned.
	GetBan(ctx context.Context, key string) (reason string, remaining time.Duration, ok bool, err error)

	// AcquireLock attempts a short-lived SETNX-style lock, returning
	// true if acquired.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ReleaseLock removes a previously acquired lock.
	ReleaseLock(ctx context.Context, key string) error
}

// RedisStore implements Store against a real Redis deployment.
type RedisStore struct {
	client redis.UniversalClient
	seq    atomic.Uint64
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// slidingWindowScript operates on a ZSET of timestamps rather than a
// single INCR counter, so it can evict entries outside a sliding window
// instead of resetting on a fixed boundary.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
redis.call("ZADD", key, now_ms, now_ms .. "-" .. ARGV[3])
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window_ms)
return count
`)

func (r *RedisStore) SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	member := r.seq.Add(1)
	res, err := slidingWindowScript.Run(ctx, r.client, []string{key}, nowMs, windowMs, member).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: sliding window: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("kv: unexpected sliding window result type %T", res)
	}
	return count, nil
}

func (r *RedisStore) SetBan(ctx context.Context, key, reason string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set ban: %w", err)
	}
	return nil
}

func (r *RedisStore) GetBan(ctx context.Context, key string) (string, time.Duration, bool, error) {
	reason, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("kv: get ban: %w", err)
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return "", 0, false, fmt.Errorf("kv: ban ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return reason, ttl, true, nil
}

func (r *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv: acquire lock: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: release lock: %w", err)
	}
	return nil
}

// SanitizeForLog strips control characters and caps length to prevent log
// injection before a raw value reaches a log line.
func SanitizeForLog(raw string) string {
	const maxLen = 64
	var b strings.Builder
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= maxLen {
			break
		}
	}
	return b.String()
}
