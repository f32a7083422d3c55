// ABOUTME: Store interface and data types for atlas-gateway persistence
// ABOUTME: Defines InstallToken, ConnectedService and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned when an install token does not exist,
// has already been consumed, or has been evicted by its TTL.
var ErrTokenNotFound = errors.New("install token not found")

// ErrServiceNotFound is returned when a requested service record does not exist.
var ErrServiceNotFound = errors.New("service not found")

// ServiceKind constants for the two registrable service kinds.
const (
	ServiceKindController = "controller"
	ServiceKindAgent      = "agent"
)

// InstallToken is the record behind one issued install token. The token
// value itself is never stored in the record; it only serves as the
// lookup key.
type InstallToken struct {
	ServiceName    string    `json:"service_name"`
	ServiceKind    string    `json:"service_type"`
	ControllerName string    `json:"controller_name,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ConnectedService is the durable record of a registered controller or
// agent. Only LastSeen and Status are mutated after creation; this
// subsystem never deletes these records.
type ConnectedService struct {
	ID              string         `json:"id"`
	ServiceKind     string         `json:"service_type"`
	ServiceName     string         `json:"service_name"`
	ControllerName  string         `json:"controller_name,omitempty"`
	CertSerial      string         `json:"client_cert_serial"`
	CertFingerprint string         `json:"client_cert_fingerprint"`
	ConnectedAt     time.Time      `json:"connected_at"`
	LastSeen        time.Time      `json:"last_seen"`
	Metadata        map[string]any `json:"metadata"`
	Status          string         `json:"status"`
}

// Store is the shared persistence tier for install tokens and connected
// services. Implementations must make ConsumeInstallToken a single
// indivisible lookup-and-delete against the backing store: a separate
// read followed by a separate delete lets two concurrent callers both
// observe the record before either deletes it, breaking exactly-once
// consumption.
type Store interface {
	// PutInstallToken persists the record keyed by the opaque token value
	// with the given TTL.
	PutInstallToken(ctx context.Context, token string, rec *InstallToken, ttl time.Duration) error

	// ConsumeInstallToken atomically removes and returns the record for
	// the token. Returns ErrTokenNotFound if no live entry exists. The
	// caller is responsible for the consume-time expiry check; the store
	// only guarantees at-most-once retrieval.
	ConsumeInstallToken(ctx context.Context, token string) (*InstallToken, error)

	// SaveService persists a new connected-service record.
	SaveService(ctx context.Context, svc *ConnectedService) error

	// UpdateService overwrites an existing record. Returns
	// ErrServiceNotFound if the record does not exist.
	UpdateService(ctx context.Context, svc *ConnectedService) error

	// ListServices returns all connected-service records in no particular order.
	ListServices(ctx context.Context) ([]*ConnectedService, error)

	// Close releases the underlying connection resources.
	Close() error
}
