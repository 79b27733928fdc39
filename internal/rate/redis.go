package rate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	bucketRecordVersion1 = 1
	bucketRecordSize     = 1 + 4 + 8
	maxUpdateRetries     = 8
)

// RedisStore keeps buckets in Redis. Each Update runs inside WATCH/MULTI and is
// retried on contention, so concurrent takers on the same key are linearized.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed bucket store. An empty prefix defaults
// to "srl".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "srl"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(b Bucket, exists bool) Bucket) error {
	rkey := s.key(key)

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var (
				current Bucket
				exists  bool
			)
			data, err := tx.Get(ctx, rkey).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				current, err = decodeBucket(data)
				if err != nil {
					return err
				}
				exists = true
			}

			next := fn(current, exists)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rkey, encodeBucket(next), ttl)
				return nil
			})
			return err
		}, rkey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
		return nil
	}

	return ErrContention
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeBucket(b Bucket) []byte {
	buf := make([]byte, bucketRecordSize)
	buf[0] = bucketRecordVersion1
	binary.BigEndian.PutUint32(buf[1:5], uint32(b.Tokens))
	binary.BigEndian.PutUint64(buf[5:13], uint64(b.LastRefill))
	return buf
}

func decodeBucket(data []byte) (Bucket, error) {
	if len(data) != bucketRecordSize || data[0] != bucketRecordVersion1 {
		return Bucket{}, errors.New("invalid rate bucket record")
	}
	return Bucket{
		Tokens:     int(binary.BigEndian.Uint32(data[1:5])),
		LastRefill: int64(binary.BigEndian.Uint64(data[5:13])),
	}, nil
}
