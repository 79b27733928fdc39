// Package middleware exposes net/http adapters around a stepup Engine.
//
// # Guards
//
//   - [RequireStepUp] admits requests carrying a valid step-up grant for an action.
//   - [RequireSignedPath] admits requests whose edge path signature verifies.
//
// RequireStepUp injects the verified grant claims into the request context;
// read them back with [GrantFromContext].
//
// # What this package must NOT do
//
//   - Parse or sign grants directly (delegates to Engine.VerifyGrant).
//   - Access Redis.
//   - Start or advance step-up flows.
package middleware
