package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FactorStore keeps enrolled factor data in one hash per user: field is the
// factor name, value is the JSON-encoded factor data.
type FactorStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewFactorStore(redisClient redis.UniversalClient, prefix string) *FactorStore {
	if prefix == "" {
		prefix = "sf"
	}
	return &FactorStore{redis: redisClient, prefix: prefix}
}

func (s *FactorStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *FactorStore) Enable(ctx context.Context, userID, factor string, data map[string]string) error {
	if data == nil {
		data = map[string]string{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if err := s.redis.HSet(ctx, s.key(userID), factor, encoded).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Get returns nil, nil when the factor is not enrolled.
func (s *FactorStore) Get(ctx context.Context, userID, factor string) (map[string]string, error) {
	raw, err := s.redis.HGet(ctx, s.key(userID), factor).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if data == nil {
		data = map[string]string{}
	}
	return data, nil
}

func (s *FactorStore) Disable(ctx context.Context, userID, factor string) error {
	if err := s.redis.HDel(ctx, s.key(userID), factor).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Enrolled lists the factor names the user has enabled, in no particular order.
func (s *FactorStore) Enrolled(ctx context.Context, userID string) ([]string, error) {
	names, err := s.redis.HKeys(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return names, nil
}
