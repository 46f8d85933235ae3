package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSecondFactorLimited is returned once an identity used up its
	// second-factor attempts.
	ErrSecondFactorLimited = errors.New("second factor attempts exhausted")
	// ErrSecondFactorUnavailable indicates the counter backend is unreachable.
	ErrSecondFactorUnavailable = errors.New("second factor limiter backend unavailable")
)

// SecondFactorConfig holds the second-factor guessing policy.
type SecondFactorConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// SecondFactorLimiter counts invalid one-time codes per identity. The counter
// expires Cooldown after the first invalid code. It is separate from the
// [AttemptTracker] so a wrong code never locks the password step.
type SecondFactorLimiter struct {
	redis  redis.UniversalClient
	config SecondFactorConfig
}

// NewSecondFactorLimiter returns nil when cfg.MaxAttempts is not positive.
func NewSecondFactorLimiter(redisClient redis.UniversalClient, cfg SecondFactorConfig) *SecondFactorLimiter {
	if cfg.MaxAttempts <= 0 {
		return nil
	}
	return &SecondFactorLimiter{redis: redisClient, config: cfg}
}

func secondFactorKey(tenantID, identity string) string {
	return "gsf:" + normalizeTenantID(tenantID) + ":" + identity
}

// Check returns [ErrSecondFactorLimited] and the time left on the counter
// once MaxAttempts invalid codes were recorded.
func (l *SecondFactorLimiter) Check(ctx context.Context, tenantID, identity string) (time.Duration, error) {
	if l == nil || identity == "" {
		return 0, nil
	}

	key := secondFactorKey(tenantID, identity)
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if count < int64(l.config.MaxAttempts) {
		return 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if ttl <= 0 {
		ttl = l.config.Cooldown
	}
	return ttl, ErrSecondFactorLimited
}

// RecordFailure counts one invalid code and reports whether the identity is
// now limited.
func (l *SecondFactorLimiter) RecordFailure(ctx context.Context, tenantID, identity string) (bool, error) {
	if l == nil || identity == "" {
		return false, nil
	}

	key := secondFactorKey(tenantID, identity)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
		}
	}
	return count >= int64(l.config.MaxAttempts), nil
}

// Reset clears the counter after a valid code.
func (l *SecondFactorLimiter) Reset(ctx context.Context, tenantID, identity string) error {
	if l == nil || identity == "" {
		return nil
	}

	if err := l.redis.Del(ctx, secondFactorKey(tenantID, identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	return nil
}
