// Package stepup provides risk-adaptive step-up authentication: a policy that
// maps request risk to an ordered list of factors, a Redis-backed flow ticket
// that walks the user through them, and token-bucket limits on every proof.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// stepup is the public surface. It exposes [Engine], [Builder], [Config], the
// [PolicyEngine], [FlowOrchestrator] and rate limiter building blocks, and the
// collaborator interfaces ([StorageAdapter], [FactorVerifier], [CodeIssuer],
// [OtpDelivery]). Flow coordination, record encoding, limiter keys and audit
// dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Verify factor proofs itself. Verifiers are supplied by the caller; the
//     otp sub-package is one such verifier.
//   - Import any sub-package that re-imports stepup (no import cycles).
//
// # Flow
//
// [Engine.Begin] decides and mints a ticket. [Engine.Verify] accepts only the
// ticket's next factor, rate limits per user and factor, and deletes the ticket
// once the last factor is satisfied, optionally returning a signed grant.
// Tickets expire lazily at read time with millisecond precision.
package stepup
