// Package install handles bootstrap of new controllers and agents into
// the gateway's service registry.
//
// # Install tokens
//
// An administrator issues a single-use install token bound to a service
// name, a kind (controller or agent), and a TTL (default 24 hours). The
// token value is 32 bytes from crypto/rand, URL-safe base64 without
// padding, and is never derivable from the record it names.
//
// # Registration
//
// A service redeems its token exactly once, presenting a PEM client
// certificate. Redemption consumes the token atomically before anything
// else happens, so a failed registration (bad certificate, expired
// record) still burns the token. The certificate's serial number and the
// SHA-256 fingerprint of the trimmed PEM are recorded with the service;
// the serial is the handle later heartbeats use.
//
// Agents may name a parent controller. The parent is not required to be
// registered first; a missing controller is logged, not rejected.
package install
