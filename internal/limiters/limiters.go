package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrVerifyRateLimited  = errors.New("factor verification rate limited")
	ErrIssueRateLimited   = errors.New("code issuance rate limited")
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

const (
	defaultVerifyLimit  = 5
	defaultVerifyWindow = time.Minute
	defaultIssueLimit   = 3
	defaultIssueWindow  = 5 * time.Minute
)

// Bucket is the token-bucket surface the limiters draw from.
type Bucket interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)
	Reset(ctx context.Context, key string) error
}

// Config holds one limiter's threshold. Zero fields fall back to defaults.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults(limit int, window time.Duration) Config {
	if c.Limit <= 0 {
		c.Limit = limit
	}
	if c.Window <= 0 {
		c.Window = window
	}
	return c
}

// VerifyLimiter throttles proof submissions per user and factor.
type VerifyLimiter struct {
	bucket Bucket
	cfg    Config
}

// NewVerifyLimiter creates a verify limiter. Zero-value fields in cfg fall
// back to 5 attempts per minute.
func NewVerifyLimiter(bucket Bucket, cfg Config) *VerifyLimiter {
	return &VerifyLimiter{bucket: bucket, cfg: cfg.withDefaults(defaultVerifyLimit, defaultVerifyWindow)}
}

// VerifyKey is the bucket key for one user and factor.
func VerifyKey(userID, factor string) string {
	return "v:" + userID + ":" + factor
}

func (l *VerifyLimiter) Check(ctx context.Context, userID, factor string) error {
	if l == nil || l.bucket == nil {
		return nil
	}
	return take(ctx, l.bucket, VerifyKey(userID, factor), l.cfg, ErrVerifyRateLimited)
}

// Reset clears the user's bucket for factor after a successful proof.
func (l *VerifyLimiter) Reset(ctx context.Context, userID, factor string) error {
	if l == nil || l.bucket == nil {
		return nil
	}
	if err := l.bucket.Reset(ctx, VerifyKey(userID, factor)); err != nil {
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	return nil
}

// IssueLimiter throttles one-time code delivery per destination address.
type IssueLimiter struct {
	bucket Bucket
	cfg    Config
}

// NewIssueLimiter creates an issue limiter. Zero-value fields in cfg fall back
// to 3 codes per 5 minutes.
func NewIssueLimiter(bucket Bucket, cfg Config) *IssueLimiter {
	return &IssueLimiter{bucket: bucket, cfg: cfg.withDefaults(defaultIssueLimit, defaultIssueWindow)}
}

func IssueKey(address string) string {
	return "i:" + address
}

func (l *IssueLimiter) Check(ctx context.Context, address string) error {
	if l == nil || l.bucket == nil {
		return nil
	}
	return take(ctx, l.bucket, IssueKey(address), l.cfg, ErrIssueRateLimited)
}

func take(ctx context.Context, bucket Bucket, key string, cfg Config, limited error) error {
	allowed, _, err := bucket.Take(ctx, key, cfg.Limit, cfg.Window)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	if !allowed {
		return limited
	}
	return nil
}
