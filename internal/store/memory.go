// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows tests to run without Redis or SQLite

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing. The
// mutex is held across the lookup-and-delete in ConsumeInstallToken to
// preserve the same exactly-once guarantee as the real backends.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[string]*memoryToken
	services map[string]*ConnectedService
}

type memoryToken struct {
	rec       InstallToken
	evictedAt time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]*memoryToken),
		services: make(map[string]*ConnectedService),
	}
}

// PutInstallToken stores the record keyed by the token value.
func (m *MemoryStore) PutInstallToken(ctx context.Context, token string, rec *InstallToken, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[token] = &memoryToken{
		rec:       *rec,
		evictedAt: time.Now().Add(ttl),
	}
	return nil
}

// ConsumeInstallToken removes and returns the record under one lock,
// emulating the backing stores' atomic get-and-delete.
func (m *MemoryStore) ConsumeInstallToken(ctx context.Context, token string) (*InstallToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	delete(m.tokens, token)

	if time.Now().After(entry.evictedAt) {
		// TTL passed but lazy eviction hadn't run yet.
		return nil, ErrTokenNotFound
	}

	rec := entry.rec
	return &rec, nil
}

// SaveService stores a copy of the service record.
func (m *MemoryStore) SaveService(ctx context.Context, svc *ConnectedService) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *svc
	m.services[s.ID] = &s
	return nil
}

// UpdateService overwrites an existing service record.
func (m *MemoryStore) UpdateService(ctx context.Context, svc *ConnectedService) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[svc.ID]; !ok {
		return ErrServiceNotFound
	}
	s := *svc
	m.services[s.ID] = &s
	return nil
}

// ListServices returns copies of all service records.
func (m *MemoryStore) ListServices(ctx context.Context) ([]*ConnectedService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	services := make([]*ConnectedService, 0, len(m.services))
	for _, svc := range m.services {
		s := *svc
		services = append(services, &s)
	}
	return services, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
