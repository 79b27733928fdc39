// Package grant issues and verifies step-up grants: short-lived signed tokens
// proving that a user completed a step-up flow for a given action.
//
// Grants are JWTs (Ed25519 by default, HS256 optional) carrying the user ID,
// the action, and the satisfied factors as the "amr" claim. The token ID is
// the fulfilled flow ticket's ID.
package grant
