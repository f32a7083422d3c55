// Package gateway assembles atlas-gateway from its parts and runs it.
//
// New opens the configured store backend and wires the issuer client,
// the key-set cache, the token validator, and the install/registry
// service behind one HTTP mux. Run serves that mux until the context is
// canceled, then shuts down gracefully with a bounded timeout.
//
// Startup bootstrap runs concurrently with serving: a bounded retry loop
// waits for the issuer's discovery document and then seeds the
// configured admin user. Its outcome (pending, ready, degraded) is what
// GET /health/ready reports; a degraded gateway still serves traffic.
package gateway
