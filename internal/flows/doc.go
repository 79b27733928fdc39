// Package flows contains pure-function orchestrators for every Engine
// operation that touches more than one collaborator.
//
// Each flow function (RunBegin, RunVerify, RunIssueCode) accepts a typed
// dependency struct and returns results without side-effects beyond those
// dependencies, so each can be unit tested with plain function stubs.
//
// # Architecture boundaries
//
// Flow functions coordinate the ticket orchestrator, factor verifiers, rate
// limiters, device trust, grant issuance, audit, and metrics. They do NOT own
// any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import stepup (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
