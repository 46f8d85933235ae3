package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAttemptsUnavailable indicates the attempt counter backend is unreachable.
var ErrAttemptsUnavailable = errors.New("attempt tracker backend unavailable")

// AttemptConfig holds the lockout policy of an [AttemptTracker].
type AttemptConfig struct {
	MaxAttempts  int
	LockInterval time.Duration
	// LegacyExtraAttempt locks only once the count exceeds MaxAttempts,
	// granting one extra try.
	LegacyExtraAttempt bool
}

// AttemptState is the counter pair stored for one identity.
type AttemptState struct {
	Count        int
	FirstFailure time.Time
}

// AttemptTracker counts consecutive login failures per identity. The window is
// anchored at the first failure: a failure observed after LockInterval has
// elapsed restarts the count at one instead of accumulating.
type AttemptTracker struct {
	redis  redis.UniversalClient
	config AttemptConfig
	now    func() time.Time
}

// NewAttemptTracker creates an attempt tracker. now may be nil.
func NewAttemptTracker(redisClient redis.UniversalClient, cfg AttemptConfig, now func() time.Time) *AttemptTracker {
	if now == nil {
		now = time.Now
	}
	return &AttemptTracker{redis: redisClient, config: cfg, now: now}
}

// cleanupMargin keeps the pair readable slightly past the window so the
// restart decision is made by the script, not by TTL.
const cleanupMargin = time.Minute

// recordFailureLua updates the (first, count) pair in one step.
//
// KEYS[1] = attempt key
// ARGV[1] = now (unix ms)
// ARGV[2] = lock interval (ms)
// ARGV[3] = cleanup margin (ms)
//
// Returns {first, count}.
var recordFailureLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local margin = tonumber(ARGV[3])

local first = tonumber(redis.call('HGET', KEYS[1], 'first'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))

if (not first) or (not count) or (now - first > interval) then
  first = now
  count = 1
else
  count = count + 1
end

redis.call('HSET', KEYS[1], 'first', first, 'count', count)
redis.call('PEXPIRE', KEYS[1], first + interval - now + margin)
return {first, count}
`)

func attemptKey(tenantID, identity string) string {
	return "gsa:" + normalizeTenantID(tenantID) + ":" + identity
}

// RecordFailure registers a failed attempt and returns the updated state.
func (t *AttemptTracker) RecordFailure(ctx context.Context, tenantID, identity string) (AttemptState, error) {
	if t == nil || identity == "" {
		return AttemptState{}, nil
	}

	now := t.now()
	res, err := recordFailureLua.Run(ctx, t.redis,
		[]string{attemptKey(tenantID, identity)},
		now.UnixMilli(),
		t.config.LockInterval.Milliseconds(),
		cleanupMargin.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if len(res) != 2 {
		return AttemptState{}, fmt.Errorf("%w: unexpected script reply", ErrAttemptsUnavailable)
	}

	return AttemptState{Count: int(res[1]), FirstFailure: time.UnixMilli(res[0])}, nil
}

// RecordSuccess deletes the counter pair.
func (t *AttemptTracker) RecordSuccess(ctx context.Context, tenantID, identity string) error {
	if t == nil || identity == "" {
		return nil
	}

	if err := t.redis.Del(ctx, attemptKey(tenantID, identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}

// State returns the stored pair. Half-written pairs read as no history.
func (t *AttemptTracker) State(ctx context.Context, tenantID, identity string) (AttemptState, error) {
	if t == nil || identity == "" {
		return AttemptState{}, nil
	}

	vals, err := t.redis.HMGet(ctx, attemptKey(tenantID, identity), "first", "count").Result()
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}

	first, okFirst := parseInt(vals[0])
	count, okCount := parseInt(vals[1])
	if !okFirst || !okCount {
		return AttemptState{}, nil
	}

	return AttemptState{Count: int(count), FirstFailure: time.UnixMilli(first)}, nil
}

// IsAllowed reports whether identity may attempt a login. When it may not,
// retryAfter is the time left until the window closes.
func (t *AttemptTracker) IsAllowed(ctx context.Context, tenantID, identity string) (bool, time.Duration, error) {
	if t == nil || identity == "" || t.config.MaxAttempts <= 0 {
		return true, 0, nil
	}

	state, err := t.State(ctx, tenantID, identity)
	if err != nil {
		return false, 0, err
	}
	if state.Count == 0 {
		return true, 0, nil
	}

	now := t.now()
	windowEnd := state.FirstFailure.Add(t.config.LockInterval)
	if now.After(windowEnd) {
		return true, 0, nil
	}

	if !t.exceeded(state.Count) {
		return true, 0, nil
	}

	return false, windowEnd.Sub(now), nil
}

// Locks reports whether st puts the identity into lockout.
func (t *AttemptTracker) Locks(st AttemptState) bool {
	return t != nil && t.config.MaxAttempts > 0 && st.Count > 0 && t.exceeded(st.Count)
}

func (t *AttemptTracker) exceeded(count int) bool {
	if t.config.LegacyExtraAttempt {
		return count > t.config.MaxAttempts
	}
	return count >= t.config.MaxAttempts
}

func parseInt(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "default"
	}
	return tenantID
}
