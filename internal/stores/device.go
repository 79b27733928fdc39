package stores

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// DeviceTrustStore records which devices a user has completed a step-up on.
type DeviceTrustStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewDeviceTrustStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *DeviceTrustStore {
	if prefix == "" {
		prefix = "sdt"
	}
	if now == nil {
		now = time.Now
	}
	return &DeviceTrustStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *DeviceTrustStore) key(userID, deviceID string) string {
	sum := blake2b.Sum256([]byte(userID + "\x00" + deviceID))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}

// Trust marks the device trusted until the given instant. An instant in the
// past removes any existing trust.
func (s *DeviceTrustStore) Trust(ctx context.Context, userID, deviceID string, until time.Time) error {
	key := s.key(userID, deviceID)
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return s.Revoke(ctx, userID, deviceID)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(until.UnixMilli()))
	if err := s.redis.Set(ctx, key, buf[:], ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

func (s *DeviceTrustStore) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	data, err := s.redis.Get(ctx, s.key(userID, deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if len(data) != 8 {
		return false, fmt.Errorf("%w: device trust record", ErrCorruptRecord)
	}
	until := int64(binary.BigEndian.Uint64(data))
	return s.now().UnixMilli() < until, nil
}

func (s *DeviceTrustStore) Revoke(ctx context.Context, userID, deviceID string) error {
	if err := s.redis.Del(ctx, s.key(userID, deviceID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}
