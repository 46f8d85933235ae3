package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the per-address throttle policy.
type Config struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts failed logins per client address using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) active(ip string) bool {
	return l != nil && l.config.Enabled && l.config.MaxAttempts > 0 && ip != ""
}

// Check returns [ErrRateLimited] when ip has exhausted its budget. The
// returned duration is the remaining window.
func (l *Limiter) Check(ctx context.Context, tenantID, ip string) (time.Duration, error) {
	if !l.active(ip) {
		return 0, nil
	}

	key := ipKey(tenantID, ip)
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count < int64(l.config.MaxAttempts) {
		return 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = l.config.Window
	}

	return ttl, ErrRateLimited
}

// Increment records a failed login from ip.
func (l *Limiter) Increment(ctx context.Context, tenantID, ip string) error {
	if !l.active(ip) {
		return nil
	}

	key := ipKey(tenantID, ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is only set by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil
}

// Attempts returns the current counter for ip.
func (l *Limiter) Attempts(ctx context.Context, tenantID, ip string) (int, error) {
	if !l.active(ip) {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, ipKey(tenantID, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func ipKey(tenantID, ip string) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return "gsip:" + tenantID + ":" + ip
}
