package rate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	bucket    Bucket
	expiresAt time.Time
}

// MemoryStore keeps buckets in process memory. It is safe for concurrent use;
// the mutex is what provides per-key atomicity for this backend.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]memoryEntry
}

// NewMemoryStore creates an empty store. A nil now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		buckets: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn func(b Bucket, exists bool) Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.buckets[key]
	if ok && !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(s.buckets, key)
		ok = false
	}

	next := fn(entry.bucket, ok)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	s.buckets[key] = memoryEntry{bucket: next, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of retained buckets, including expired ones not yet
// touched again.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
