// Package limiters provides the step-up specific rate limiters built on top of
// a token bucket.
//
// # Limiters
//
//   - [VerifyLimiter]: per user and factor, default 5 attempts / 60 s.
//   - [IssueLimiter]: per delivery address, default 3 codes / 5 min.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import stepup or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
