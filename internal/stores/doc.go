// Package stores provides the Redis-backed persistence used by the reference
// step-up storage adapter: flow tickets, short-lived secrets, enrolled factor
// data, and device-trust records.
//
// # Design
//
// Flow tickets are persisted as versioned, binary-encoded records. Mutation
// ([TicketStore.Update]) runs inside WATCH/MULTI optimistic transactions with
// bounded retry, which gives the per-ticket atomic read-modify-write the flow
// orchestrator depends on. Redis TTLs are a garbage-collection backstop only;
// ticket expiry itself is decided by the caller at read time.
//
// Device identifiers are never stored raw: trust records are keyed by a
// BLAKE2b digest of the user and device identifiers.
//
// # What this package must NOT do
//
//   - Import stepup or any sibling internal package.
//   - Decide ticket expiry or factor ordering (the orchestrator does).
//   - Log or expose secret values.
package stores
