package stepup

import (
	"context"
	"time"

	"github.com/MrEthical07/stepup/internal/rate"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a keyed continuous token bucket. Each key holds at most limit
// tokens and regains limit tokens per window, in whole-token steps. Refill time
// not yet worth a whole token is carried over to later calls rather than
// discarded, so a partly refilled bucket keeps its progress across takes.
type RateLimiter interface {
	// Take consumes one token for key when one is available.
	Take(ctx context.Context, key string, limit int, window time.Duration) (TakeResult, error)
	// Reset forgets key; its next Take sees a full bucket.
	Reset(ctx context.Context, key string) error
}

// RateLimiterOption configures the built-in limiters.
type RateLimiterOption func(*rateLimiterOptions)

type rateLimiterOptions struct {
	now func() time.Time
}

// WithLimiterClock replaces time.Now, mainly for tests.
func WithLimiterClock(now func() time.Time) RateLimiterOption {
	return func(o *rateLimiterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

type bucketLimiter struct {
	limiter *rate.Limiter
}

func newBucketLimiter(store func(now func() time.Time) rate.Store, opts []RateLimiterOption) *bucketLimiter {
	o := rateLimiterOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &bucketLimiter{limiter: rate.New(store(o.now), o.now)}
}

// NewMemoryRateLimiter returns a process-local RateLimiter. Buckets are
// dropped lazily once idle for a full window.
func NewMemoryRateLimiter(opts ...RateLimiterOption) RateLimiter {
	return newBucketLimiter(func(now func() time.Time) rate.Store {
		return rate.NewMemoryStore(now)
	}, opts)
}

// NewRedisRateLimiter returns a RateLimiter shared by every process using the
// same Redis and prefix. Idle buckets expire after one window.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, opts ...RateLimiterOption) RateLimiter {
	return newBucketLimiter(func(func() time.Time) rate.Store {
		return rate.NewRedisStore(client, prefix)
	}, opts)
}

func (l *bucketLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (TakeResult, error) {
	res, err := l.limiter.Take(ctx, key, limit, window)
	if err != nil {
		return TakeResult{}, err
	}
	return TakeResult{Allowed: res.Allowed, Remaining: res.Remaining}, nil
}

func (l *bucketLimiter) Reset(ctx context.Context, key string) error {
	return l.limiter.Reset(ctx, key)
}

// Guard runs fn only when a token for key is available, otherwise it returns
// ErrRateLimited without calling fn.
func Guard(ctx context.Context, limiter RateLimiter, key string, limit int, window time.Duration, fn func(context.Context) error) error {
	if limiter == nil {
		return ErrEngineNotReady
	}
	res, err := limiter.Take(ctx, key, limit, window)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return ErrRateLimited
	}
	return fn(ctx)
}

// limiterBucket adapts a RateLimiter to the internal limiters.
type limiterBucket struct {
	limiter RateLimiter
}

func (b limiterBucket) Take(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	res, err := b.limiter.Take(ctx, key, limit, window)
	return res.Allowed, res.Remaining, err
}

func (b limiterBucket) Reset(ctx context.Context, key string) error {
	return b.limiter.Reset(ctx, key)
}
