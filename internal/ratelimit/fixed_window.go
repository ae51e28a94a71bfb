package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript bumps the window counter and returns it together with the
// key's remaining TTL in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// failClosedRetry is the Retry-After handed out while Redis is unreachable.
const failClosedRetry = 5 * time.Second

// Decision is the outcome of one request against a caller's budget.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// FixedWindowLimiter counts requests per key in Redis, resetting on fixed
// window boundaries.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	client redis.UniversalClient
	prefix string
}

// NewRedisFixedWindowLimiter dials Redis at addr and allows limit requests per
// key and window.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: addr, Password: password}), prefix, limit, window)
}

// NewFixedWindowLimiter wraps an existing client. Close closes it.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "docgen:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit"),
		client: client,
		prefix: prefix,
	}, nil
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window < time.Millisecond {
		return errors.New("rate limiter requires positive limit and window")
	}
	return nil
}

// Ping checks Redis reachability at startup.
func (l *FixedWindowLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}

// Allow consumes one request from key's budget. Redis failures reject the
// request.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil || len(vals) != 2 {
		l.logger.Warn("rate limit check failed, rejecting request", "key", key, "err", err)
		return Decision{Limit: l.limit, RetryAfter: failClosedRetry}
	}

	count, ttlMs := vals[0], vals[1]
	if ttlMs <= 0 {
		ttlMs = (slot+1)*windowMs - nowMs
	}
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(l.limit-int(count), 0),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return d
}
