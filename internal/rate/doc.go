// Package rate implements the continuous token-bucket arithmetic shared by every
// step-up rate limiter backend, plus the in-memory and Redis bucket stores.
//
// # Bucket semantics
//
// A bucket holds an integer token count in [0, limit] and the millisecond
// timestamp of its last refill. On every Take the bucket is lazily refilled by
// floor(elapsedMs * limit / windowMs) tokens, clamped at limit. A bucket that
// has never been seen is materialized at full capacity. Capacity and window are
// supplied per call and are not stored with the bucket.
//
// # Atomicity
//
// The arithmetic in [Take] is pure. Stores apply it inside their own atomic
// read-modify-write section: a mutex for [MemoryStore], WATCH/MULTI with
// bounded retries for [RedisStore].
//
// # What this package must NOT do
//
//   - Decide key naming or thresholds (those live in internal/limiters).
//   - Be imported outside the stepup module.
package rate
