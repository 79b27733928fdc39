package stepup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type limiterFactory struct {
	name string
	make func(t *testing.T, clock *fakeClock) RateLimiter
}

func limiterFactories() []limiterFactory {
	return []limiterFactory{
		{
			name: "memory",
			make: func(_ *testing.T, clock *fakeClock) RateLimiter {
				return NewMemoryRateLimiter(WithLimiterClock(clock.Now))
			},
		},
		{
			name: "redis",
			make: func(t *testing.T, clock *fakeClock) RateLimiter {
				_, rdb := newTestRedis(t)
				return NewRedisRateLimiter(rdb, "rl-test", WithLimiterClock(clock.Now))
			},
		},
	}
}

func TestRateLimiterFiveThenReject(t *testing.T) {
	for _, f := range limiterFactories() {
		t.Run(f.name, func(t *testing.T) {
			l := f.make(t, newFakeClock())
			ctx := context.Background()

			for i, want := range []int{4, 3, 2, 1, 0} {
				res, err := l.Take(ctx, "user-1:OTP", 5, 60*time.Second)
				if err != nil {
					t.Fatalf("take %d failed: %v", i+1, err)
				}
				if !res.Allowed || res.Remaining != want {
					t.Fatalf("take %d: got %+v, want remaining %d", i+1, res, want)
				}
			}

			res, err := l.Take(ctx, "user-1:OTP", 5, 60*time.Second)
			if err != nil {
				t.Fatalf("take 6 failed: %v", err)
			}
			if res.Allowed || res.Remaining != 0 {
				t.Fatalf("sixth take must be rejected, got %+v", res)
			}

			other, err := l.Take(ctx, "user-2:OTP", 5, 60*time.Second)
			if err != nil || !other.Allowed || other.Remaining != 4 {
				t.Fatalf("distinct keys must be independent, got %+v %v", other, err)
			}
		})
	}
}

func TestRateLimiterRefillAndReset(t *testing.T) {
	for _, f := range limiterFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			l := f.make(t, clock)
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				if _, err := l.Take(ctx, "k", 2, 10*time.Second); err != nil {
					t.Fatalf("take failed: %v", err)
				}
			}
			if res, _ := l.Take(ctx, "k", 2, 10*time.Second); res.Allowed {
				t.Fatal("expected empty bucket")
			}

			clock.Advance(5 * time.Second)
			res, err := l.Take(ctx, "k", 2, 10*time.Second)
			if err != nil || !res.Allowed || res.Remaining != 0 {
				t.Fatalf("expected one refilled token after half a window, got %+v %v", res, err)
			}

			if err := l.Reset(ctx, "k"); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			res, err = l.Take(ctx, "k", 2, 10*time.Second)
			if err != nil || !res.Allowed || res.Remaining != 1 {
				t.Fatalf("expected full bucket after reset, got %+v %v", res, err)
			}
		})
	}
}

func TestRateLimiterInvalidLimit(t *testing.T) {
	for _, f := range limiterFactories() {
		t.Run(f.name, func(t *testing.T) {
			l := f.make(t, newFakeClock())
			ctx := context.Background()

			if _, err := l.Take(ctx, "k", 0, time.Minute); !errors.Is(err, ErrInvalidLimit) {
				t.Fatalf("expected ErrInvalidLimit for zero limit, got %v", err)
			}
			if _, err := l.Take(ctx, "k", 1, 0); !errors.Is(err, ErrInvalidLimit) {
				t.Fatalf("expected ErrInvalidLimit for zero window, got %v", err)
			}
		})
	}
}

// Over any interval of length d a key admits at most limit + floor(d*limit/window)
// takes: a full bucket plus what refills during d.
func TestRateLimiterWindowCeiling(t *testing.T) {
	for _, f := range limiterFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			l := f.make(t, clock)
			ctx := context.Background()

			const (
				limit  = 5
				window = 60 * time.Second
				step   = 700 * time.Millisecond
				steps  = 400
			)

			allowedAt := make([]time.Duration, 0, steps)
			start := clock.Now()
			for i := 0; i < steps; i++ {
				res, err := l.Take(ctx, "k", limit, window)
				if err != nil {
					t.Fatalf("take failed: %v", err)
				}
				if res.Allowed {
					allowedAt = append(allowedAt, clock.Now().Sub(start))
				}
				clock.Advance(step)
			}

			for i := range allowedAt {
				for j := i; j < len(allowedAt); j++ {
					span := allowedAt[j] - allowedAt[i]
					ceiling := limit + int(int64(span)*limit/int64(window))
					if count := j - i + 1; count > ceiling {
						t.Fatalf("%d takes within %v exceed ceiling %d", count, span, ceiling)
					}
				}
			}

			if len(allowedAt) < limit {
				t.Fatalf("expected at least %d allowed takes, got %d", limit, len(allowedAt))
			}
		})
	}
}

func TestRateLimiterConcurrentTakesNeverOverspend(t *testing.T) {
	for _, f := range limiterFactories() {
		t.Run(f.name, func(t *testing.T) {
			l := f.make(t, newFakeClock())
			ctx := context.Background()

			const (
				limit   = 10
				workers = 16
				perG    = 5
			)
			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
			)
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					for j := 0; j < perG; j++ {
						res, err := l.Take(ctx, "shared", limit, time.Hour)
						if err == nil && res.Allowed {
							allowed.Add(1)
						}
					}
				}()
			}
			wg.Wait()

			if got := allowed.Load(); got > limit {
				t.Fatalf("allowed %d takes, limit is %d", got, limit)
			}
		})
	}
}

func TestGuard(t *testing.T) {
	l := NewMemoryRateLimiter(WithLimiterClock(newFakeClock().Now))
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	if err := Guard(ctx, l, "ip:send", 1, time.Minute, fn); err != nil {
		t.Fatalf("first Guard failed: %v", err)
	}
	if err := Guard(ctx, l, "ip:send", 1, time.Minute, fn); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn must run only when a token is taken, ran %d times", calls)
	}

	boom := errors.New("boom")
	if err := Guard(ctx, l, "other", 1, time.Minute, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if err := Guard(ctx, nil, "k", 1, time.Minute, fn); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady for nil limiter, got %v", err)
	}
}

func TestRateLimiterCarriesPartialRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryRateLimiter(WithLimiterClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if res, err := limiter.Take(ctx, "k", 5, time.Minute); err != nil || !res.Allowed {
			t.Fatalf("take %d: %+v %v", i, res, err)
		}
	}

	// One token per 12s. At 20s one token is minted and 8s of progress kept.
	clock.Advance(20 * time.Second)
	if res, _ := limiter.Take(ctx, "k", 5, time.Minute); !res.Allowed {
		t.Fatal("expected a refilled token after 20s")
	}

	// 4s later the kept progress completes the next token.
	clock.Advance(4 * time.Second)
	if res, _ := limiter.Take(ctx, "k", 5, time.Minute); !res.Allowed {
		t.Fatal("expected carried refill progress to yield a token at 24s")
	}
	if res, _ := limiter.Take(ctx, "k", 5, time.Minute); res.Allowed {
		t.Fatal("expected the bucket to be empty again")
	}
}
