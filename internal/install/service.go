// ABOUTME: Install token issuance and one-time service registration
// ABOUTME: Binds consumed tokens to client certificates and persists service records

package install

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kubeatlas/atlas-gateway/internal/store"
)

// Service errors
var (
	// ErrInvalidToken covers unknown, already-consumed, and expired
	// install tokens. The three cases are deliberately indistinguishable
	// to the caller.
	ErrInvalidToken = errors.New("invalid or expired install token")

	// ErrCertParse means the presented client certificate could not be decoded.
	ErrCertParse = errors.New("failed to parse client certificate")

	// ErrUnknownKind means the requested service kind is not controller or agent.
	ErrUnknownKind = errors.New("unknown service type")

	// ErrInvalidRequest means the issuance request itself is malformed
	// (missing name, negative expiry). A caller error, never a server one.
	ErrInvalidRequest = errors.New("invalid install token request")

	// ErrServiceNotFound means no registered service matches the given cert serial.
	ErrServiceNotFound = errors.New("service not found")
)

// tokenBytes is the entropy of a generated install token (256 bits).
const tokenBytes = 32

// DefaultTTLHours applies when an issuance request does not specify an expiry.
const DefaultTTLHours = 24

// IssueRequest describes one install token to create.
type IssueRequest struct {
	ServiceName    string `json:"service_name"`
	ServiceKind    string `json:"service_type"`
	ControllerName string `json:"controller_name,omitempty"`
	ExpiresInHours int64  `json:"expires_in_hours,omitempty"`
}

// IssueResponse carries the freshly generated token. The token value is
// returned exactly once and never persisted.
type IssueResponse struct {
	InstallToken string    `json:"install_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RegisterRequest is a service's one-time registration: the install
// token plus the client certificate it will authenticate with from now on.
type RegisterRequest struct {
	InstallToken  string         `json:"install_token"`
	ClientCertPEM string         `json:"client_cert_pem"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RegisterResponse confirms a successful registration.
type RegisterResponse struct {
	ServiceID string `json:"service_id"`
	Message   string `json:"message"`
}

// Service implements the install-token protocol: issuance by admins,
// one-time consumption by registering services, and the connected-service
// registry built from successful registrations.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates an install Service backed by the given store.
func NewService(st store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "install"),
	}
}

// IssueToken generates a new single-use install token and persists its
// record with the requested TTL. createdBy records the authenticated
// admin who requested it.
func (s *Service) IssueToken(ctx context.Context, req IssueRequest, createdBy string) (*IssueResponse, error) {
	if req.ServiceKind != store.ServiceKindController && req.ServiceKind != store.ServiceKindAgent {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.ServiceKind)
	}
	if req.ServiceName == "" {
		return nil, fmt.Errorf("%w: service_name is required", ErrInvalidRequest)
	}
	if req.ExpiresInHours < 0 {
		return nil, fmt.Errorf("%w: expires_in_hours must not be negative", ErrInvalidRequest)
	}

	hours := req.ExpiresInHours
	if hours == 0 {
		hours = DefaultTTLHours
	}
	ttl := time.Duration(hours) * time.Hour

	now := time.Now().UTC()
	rec := &store.InstallToken{
		ServiceName:    req.ServiceName,
		ServiceKind:    req.ServiceKind,
		ControllerName: req.ControllerName,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating install token: %w", err)
	}

	if err := s.store.PutInstallToken(ctx, token, rec, ttl); err != nil {
		return nil, fmt.Errorf("persisting install token: %w", err)
	}

	s.logger.Info("install token issued",
		"service_name", req.ServiceName,
		"service_type", req.ServiceKind,
		"created_by", createdBy,
		"expires_at", rec.ExpiresAt,
	)

	return &IssueResponse{InstallToken: token, ExpiresAt: rec.ExpiresAt}, nil
}

// generateToken returns a URL-safe token with 256 bits of entropy from a
// cryptographically secure source. Collisions with live entries are
// negligible at this entropy; no explicit collision check is performed.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Register consumes the install token and creates the durable
// connected-service record bound to the presented client certificate.
//
// The consume is atomic in the store, so concurrent registrations with
// the same token cannot both succeed. Expiry is re-checked here because
// the store's TTL eviction may race with consumption.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	rec, err := s.store.ConsumeInstallToken(ctx, req.InstallToken)
	if errors.Is(err, store.ErrTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("consuming install token: %w", err)
	}

	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	serial, err := certSerial(req.ClientCertPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertParse, err)
	}
	fingerprint := certFingerprint(req.ClientCertPEM)

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := time.Now().UTC()
	svc := &store.ConnectedService{
		ID:              uuid.NewString(),
		ServiceKind:     rec.ServiceKind,
		ServiceName:     rec.ServiceName,
		ControllerName:  rec.ControllerName,
		CertSerial:      serial,
		CertFingerprint: fingerprint,
		ConnectedAt:     now,
		LastSeen:        now,
		Metadata:        metadata,
		Status:          "active",
	}

	if err := s.store.SaveService(ctx, svc); err != nil {
		return nil, fmt.Errorf("persisting service record: %w", err)
	}

	// The parent controller reference is a soft one; a dangling name is
	// reported but not rejected.
	if rec.ServiceKind == store.ServiceKindAgent && rec.ControllerName != "" {
		s.checkControllerExists(ctx, rec.ControllerName)
	}

	s.logger.Info("service registered",
		"service_id", svc.ID,
		"service_name", svc.ServiceName,
		"service_type", svc.ServiceKind,
		"cert_serial", serial,
	)

	return &RegisterResponse{
		ServiceID: svc.ID,
		Message:   fmt.Sprintf("%s '%s' successfully registered", rec.ServiceKind, rec.ServiceName),
	}, nil
}

// checkControllerExists logs a warning when an agent references a
// controller name that has not registered yet.
func (s *Service) checkControllerExists(ctx context.Context, name string) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return
	}
	for _, svc := range services {
		if svc.ServiceKind == store.ServiceKindController && svc.ServiceName == name {
			return
		}
	}
	s.logger.Warn("agent references unregistered controller", "controller_name", name)
}

// Heartbeat updates last_seen on the service whose certificate serial
// matches. The full scan is acceptable for populations up to the low
// thousands; beyond that a serial index should replace it.
func (s *Service) Heartbeat(ctx context.Context, certSerial string) error {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("listing services: %w", err)
	}

	for _, svc := range services {
		if svc.CertSerial == certSerial {
			svc.LastSeen = time.Now().UTC()
			if err := s.store.UpdateService(ctx, svc); err != nil {
				return fmt.Errorf("updating heartbeat: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: cert serial %s", ErrServiceNotFound, certSerial)
}

// List returns connected services, newest-first by connection time,
// optionally filtered by kind. kind must be empty, "controller", or "agent".
func (s *Service) List(ctx context.Context, kind string) ([]*store.ConnectedService, error) {
	if kind != "" && kind != store.ServiceKindController && kind != store.ServiceKindAgent {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	filtered := services[:0]
	for _, svc := range services {
		if kind == "" || svc.ServiceKind == kind {
			filtered = append(filtered, svc)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ConnectedAt.After(filtered[j].ConnectedAt)
	})
	return filtered, nil
}

// certSerial decodes the PEM certificate and returns its serial number
// in decimal form.
func certSerial(certPEM string) (string, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", err
	}
	return cert.SerialNumber.String(), nil
}

// certFingerprint hashes the trimmed PEM bytes with SHA-256, yielding a
// stable hex identifier for the certificate content.
func certFingerprint(certPEM string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(certPEM)))
	return hex.EncodeToString(sum[:])
}
