// Package auth provides bearer token validation and role-based access
// control for atlas-gateway.
//
// # Token Validation
//
// Validation is two-tier. The local path parses the token's unverified
// header for its key identifier, fetches the matching public key from the
// key-set cache, and verifies the signature, expiry, not-before, and
// issuer claims. Audience is deliberately not enforced (the issuer emits
// varying audience shapes). If the local path cannot reach a positive
// result, the token is presented to the issuer's user-info endpoint and
// that answer is authoritative.
//
// Structurally invalid tokens (not a JWT, no kid header) are rejected
// locally and never trigger the fallback.
//
// # Identity and Roles
//
// Successful validation yields an Identity carrying the subject, profile
// fields, realm-level roles, and per-resource roles. Roles() flattens
// these into one deduplicated set; IsAdmin/IsUser/IsGuest are fixed-name
// specializations of HasRole.
//
// # Middleware
//
// RequireAuth extracts the bearer token (reject 401 before any network
// call on a bad header), validates it, and attaches the Identity to the
// request context. RequireAdmin reads that Identity and rejects
// non-admins with 403. Ordering matters: RequireAdmin assumes
// RequireAuth already ran.
package auth
