// Package internal contains helpers private to stepup: one-time code
// generation and digest comparison.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for every Engine operation
//   - limiters: verify and issue limiters built on rate
//   - metrics: lock-free counters and latency histograms
//   - rate: continuous token bucket with memory and Redis stores
//   - security: posture report helpers
//   - stores: Redis persistence for tickets, secrets, factors, device trust
//
// # What this package must NOT do
//
//   - Export types that appear in the public stepup API.
//   - Be imported by any package outside the stepup module.
package internal
