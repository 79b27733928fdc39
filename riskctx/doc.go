// Package riskctx builds a stepup.RiskContext from request headers set by an
// edge proxy or the client, and signs and verifies the origin path signature
// the edge attaches to forwarded requests.
//
// Header precedence is fixed: explicit x-client-* headers first, then the
// Cloudflare equivalents, then the standard headers. Country falls back to a
// CountryResolver when configured and to "XX" otherwise.
package riskctx
