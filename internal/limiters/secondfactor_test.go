package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSecondFactorTest(t *testing.T, cfg SecondFactorConfig) (*SecondFactorLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSecondFactorLimiter(rdb, cfg), mr
}

func TestSecondFactorLimiterLimitsGuessing(t *testing.T) {
	l, mr := newSecondFactorTest(t, SecondFactorConfig{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := l.Check(ctx, "t1", "u1"); err != nil {
			t.Fatalf("check before failure %d: %v", i, err)
		}
		limited, err := l.RecordFailure(ctx, "t1", "u1")
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if limited != (i == 3) {
			t.Fatalf("failure %d: limited = %v", i, limited)
		}
	}

	retry, err := l.Check(ctx, "t1", "u1")
	if !errors.Is(err, ErrSecondFactorLimited) {
		t.Fatalf("expected ErrSecondFactorLimited, got %v", err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("retry after = %v", retry)
	}

	if _, err := l.Check(ctx, "t2", "u1"); err != nil {
		t.Fatalf("other tenant must not be limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := l.Check(ctx, "t1", "u1"); err != nil {
		t.Fatalf("counter must expire after the cooldown: %v", err)
	}
}

func TestSecondFactorLimiterReset(t *testing.T) {
	l, _ := newSecondFactorTest(t, SecondFactorConfig{MaxAttempts: 2, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordFailure(ctx, "t1", "u1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := l.Reset(ctx, "t1", "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := l.Check(ctx, "t1", "u1"); err != nil {
		t.Fatalf("reset must clear the counter: %v", err)
	}
}

func TestSecondFactorLimiterDisabledIsNil(t *testing.T) {
	l, _ := newSecondFactorTest(t, SecondFactorConfig{})
	if l != nil {
		t.Fatal("zero MaxAttempts must disable the limiter")
	}
	if _, err := l.Check(context.Background(), "t1", "u1"); err != nil {
		t.Fatalf("nil limiter check: %v", err)
	}
	if limited, err := l.RecordFailure(context.Background(), "t1", "u1"); limited || err != nil {
		t.Fatalf("nil limiter record: %v %v", limited, err)
	}
}

func TestSecondFactorLimiterUnavailable(t *testing.T) {
	l, mr := newSecondFactorTest(t, SecondFactorConfig{MaxAttempts: 2, Cooldown: time.Minute})
	mr.Close()

	if _, err := l.RecordFailure(context.Background(), "t1", "u1"); !errors.Is(err, ErrSecondFactorUnavailable) {
		t.Fatalf("expected ErrSecondFactorUnavailable, got %v", err)
	}
}
