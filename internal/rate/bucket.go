package rate

import (
	"context"
	"time"
)

// Bucket is the persisted per-key state.
type Bucket struct {
	Tokens     int
	LastRefill int64 // unix milliseconds
}

// Result is the outcome of a single Take.
type Result struct {
	Allowed   bool
	Remaining int
}

// Take refills b (or materializes it when exists is false) and tries to consume
// one token. It returns the bucket to persist and the outcome.
//
// The refill timestamp only advances by the time actually converted into
// tokens, so slow but steady callers still accumulate credit. A full bucket
// resets the timestamp to now.
func Take(b Bucket, exists bool, nowMs int64, limit int, window time.Duration) (Bucket, Result) {
	windowMs := window.Milliseconds()
	if !exists {
		b = Bucket{Tokens: limit, LastRefill: nowMs}
	}
	if b.Tokens > limit {
		b.Tokens = limit
	}
	if b.Tokens < 0 {
		b.Tokens = 0
	}

	elapsed := nowMs - b.LastRefill
	if elapsed < 0 {
		elapsed = 0
	}

	add := elapsed * int64(limit) / windowMs
	if add > 0 {
		tokens := int64(b.Tokens) + add
		if tokens >= int64(limit) {
			b.Tokens = limit
			b.LastRefill = nowMs
		} else {
			b.Tokens = int(tokens)
			// ceil so the carried remainder never grants extra credit
			b.LastRefill += (add*windowMs + int64(limit) - 1) / int64(limit)
			if b.LastRefill > nowMs {
				b.LastRefill = nowMs
			}
		}
	} else if b.Tokens == limit {
		b.LastRefill = nowMs
	}

	if b.Tokens < 1 {
		return b, Result{Allowed: false, Remaining: 0}
	}

	b.Tokens--
	return b, Result{Allowed: true, Remaining: b.Tokens}
}

// Store applies an atomic read-modify-write to one bucket key.
type Store interface {
	// Update loads the bucket for key, calls fn, and persists the returned
	// bucket. ttl bounds how long an untouched bucket is retained.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(b Bucket, exists bool) Bucket) error
	Delete(ctx context.Context, key string) error
}

// Limiter runs the token-bucket algorithm against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New creates a Limiter. A nil now defaults to time.Now.
func New(store Store, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, now: now}
}

// Take consumes one token from key's bucket if available.
func (l *Limiter) Take(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit < 1 || window.Milliseconds() <= 0 {
		return Result{}, ErrInvalidLimit
	}

	var out Result
	err := l.store.Update(ctx, key, window, func(b Bucket, exists bool) Bucket {
		next, res := Take(b, exists, l.now().UnixMilli(), limit, window)
		out = res
		return next
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// Reset forgets key's bucket; the next Take sees a full bucket.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}
