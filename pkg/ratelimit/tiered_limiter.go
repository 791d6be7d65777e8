package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckResult is the outcome of a TieredLimiter.Check call.
type CheckResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string // "global", "ip" or "user" on a rejection; "" when every tier allows
}

// TieredLimiter enforces global, per-IP and per-user Redis counters in
// sequence (Check's endpoint argument keys no counter of its own), the
// tiered complement to AdaptiveRateLimiter's
// single risk-adjusted counter: DistributedRateLimiter.Middleware calls
// Check once per request and rejects on whichever tier trips first.
type TieredLimiter struct {
	redis  *redis.Client
	global RateLimit
	ip     RateLimit
	user   RateLimit
}

func NewTieredLimiter(redisClient *redis.Client, global, ip, user RateLimit) *TieredLimiter {
	return &TieredLimiter{redis: redisClient, global: global, ip: ip, user: user}
}

func (t *TieredLimiter) Check(ctx context.Context, ip, userID, endpoint string) (*CheckResult, error) {
	if result, err := t.checkTier(ctx, "global", "ratelimit:tiered:global", t.global); err != nil || !result.Allowed {
		return result, err
	}
	if ip != "" {
		if result, err := t.checkTier(ctx, "ip", "ratelimit:tiered:ip:"+ip, t.ip); err != nil || !result.Allowed {
			return result, err
		}
	}
	if userID != "" {
		if result, err := t.checkTier(ctx, "user", "ratelimit:tiered:user:"+userID, t.user); err != nil || !result.Allowed {
			return result, err
		}
	}
	return &CheckResult{Allowed: true, LimitedBy: ""}, nil
}

func (t *TieredLimiter) checkTier(ctx context.Context, tier, key string, limit RateLimit) (*CheckResult, error) {
	if limit.MaxRequests == 0 {
		return &CheckResult{Allowed: true}, nil
	}

	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing %s tier counter: %w", tier, err)
	}
	if count == 1 {
		t.redis.Expire(ctx, key, limit.Window)
	}

	if count > limit.MaxRequests {
		ttl, _ := t.redis.TTL(ctx, key).Result()
		return &CheckResult{Allowed: false, Remaining: 0, RetryAfter: ttl, LimitedBy: tier}, nil
	}

	return &CheckResult{Allowed: true, Remaining: limit.MaxRequests - count, LimitedBy: tier}, nil
}
