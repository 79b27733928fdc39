package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SecretStore keeps short-lived opaque values such as OTP digests.
type SecretStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSecretStore(redisClient redis.UniversalClient, prefix string) *SecretStore {
	if prefix == "" {
		prefix = "ss"
	}
	return &SecretStore{redis: redisClient, prefix: prefix}
}

func (s *SecretStore) key(k string) string {
	return s.prefix + ":" + k
}

// Set stores value under key. A non-positive ttl keeps the value until it is
// deleted.
func (s *SecretStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

func (s *SecretStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return value, true, nil
}

// Claim stores value under key only if key is absent and reports whether it
// did. The ttl must be positive.
func (s *SecretStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return ok, nil
}

// Take reads and deletes key in one round trip.
func (s *SecretStore) Take(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.GetDel(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return value, true, nil
}

func (s *SecretStore) Del(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}
