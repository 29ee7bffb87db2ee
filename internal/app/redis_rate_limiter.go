/**
 * @description
 * Redis-backed rate limiting for the endpoints a client can hammer: checkout
 * verification and download creation. The per-scope budgets live here next to
 * the limiter so the policy and its enforcement cannot drift apart.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	verifyCheckoutScope  = "verify_checkout"
	requestDownloadScope = "request_download"
)

type limitPolicy struct {
	limit  int
	window time.Duration
}

// rateLimitPolicies is the per-user budget for each guarded scope.
var rateLimitPolicies = map[string]limitPolicy{
	verifyCheckoutScope:  {limit: 10, window: time.Minute},
	requestDownloadScope: {limit: 20, window: time.Minute},
}

// Fixed-window counter: INCR sets the expiry on the first hit of the window,
// PTTL reports how long the caller has to wait once over budget.
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements RateLimiter on a shared Redis instance so the
// budget holds across service replicas. A nil limiter or nil client counts
// nothing and never blocks.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "cinelux:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window < time.Second {
		return 0, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	values, err := rateLimitScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response: %v", values)
	}

	count, ttlMs := values[0], values[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	retryAfter := int((ttlMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(count), retryAfter, nil
}
