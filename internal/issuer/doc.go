// Package issuer is the gateway's client for its external identity
// provider (a Keycloak-compatible realm).
//
// Every interaction the gateway has with the issuer lives here: user-info
// introspection (the remote half of token validation), the refresh and
// client-credentials grants, logout, the OpenID discovery probe used for
// readiness, and the narrow admin API slice bootstrap needs to provision
// the initial admin user.
//
// Calls are bounded by the configured request timeout. Two sentinel
// errors split the failure modes callers care about: ErrUnavailable (the
// issuer could not be reached) and ErrUpstreamRejected (the issuer
// answered and said no).
package issuer
