// Package store provides the shared persistence tier for install tokens
// and connected-service records.
//
// # Backends
//
// Two production backends implement the Store interface:
//
//   - RedisStore: key shapes install_token:<token> (TTL-bound),
//     service:<id>, and a "services" id set. Consumption uses GETDEL.
//   - SQLiteStore: embedded database in WAL mode with lazy TTL eviction.
//     Consumption uses DELETE ... RETURNING.
//
// MemoryStore is a test double with the same semantics.
//
// # Exactly-once consumption
//
// ConsumeInstallToken is required to be a single atomic lookup-and-delete
// on every backend. At most one concurrent caller can ever receive a
// given record; all others get ErrTokenNotFound. A duplicate success
// would indicate a broken store primitive, not routine user error.
package store
