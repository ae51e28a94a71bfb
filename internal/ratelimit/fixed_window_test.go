package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }

	ctx := context.Background()
	if d := limiter.Allow(ctx, "/generate|203.0.113.5"); !d.Allowed || d.Remaining != 1 || d.Limit != 2 {
		t.Fatalf("first request = %+v, want allowed with 1 remaining", d)
	}
	if d := limiter.Allow(ctx, "/generate|203.0.113.5"); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second request = %+v, want allowed with 0 remaining", d)
	}
	d := limiter.Allow(ctx, "/generate|203.0.113.5")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v, want within the window", d.RetryAfter)
	}
	if d := limiter.Allow(ctx, "/generate|2001:db8::/64"); !d.Allowed {
		t.Fatalf("other keys keep their own quota")
	}

	fixed = fixed.Add(time.Minute)
	if d := limiter.Allow(ctx, "/generate|203.0.113.5"); !d.Allowed {
		t.Fatalf("next window should reset the quota")
	}
}

func TestFixedWindowLimiterSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	ctx := context.Background()
	_ = limiter.Allow(ctx, "/upload|198.51.100.1")
	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "docgen:ratelimit:/upload|198.51.100.1:") {
		t.Fatalf("redis keys = %v, want one default-prefixed key", keys)
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if err := limiter.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	d := limiter.Allow(context.Background(), "ip-1")
	if d.Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
	if d.RetryAfter != failClosedRetry {
		t.Fatalf("retry after = %v, want %v", d.RetryAfter, failClosedRetry)
	}
}

func TestFixedWindowLimiterValidation(t *testing.T) {
	if limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second); err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
	if _, err := NewRedisFixedWindowLimiter("127.0.0.1:6379", "", "", 0, time.Second); err == nil {
		t.Fatalf("expected constructor error for zero limit")
	}
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected constructor error for nil client")
	}
}
