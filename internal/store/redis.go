// ABOUTME: Redis implementation of the Store interface using go-redis
// ABOUTME: GETDEL provides the atomic consume primitive for install tokens

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key shapes in the shared store.
const (
	installTokenKeyPrefix = "install_token:"
	serviceKeyPrefix      = "service:"
	servicesSetKey        = "services"
)

// RedisStore implements the Store interface against a Redis server.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed store from a connection URL
// (e.g. redis://localhost:6379/0) and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger = logger.With("component", "store")
	logger.Info("redis store initialized", "addr", opts.Addr)
	return &RedisStore{client: client, logger: logger}, nil
}

// PutInstallToken stores the record under install_token:<token> with the
// given TTL. Redis rejects non-positive expirations, so a zero or
// negative TTL is clamped to one second; the consume-time expiry check
// still rejects such tokens.
func (s *RedisStore) PutInstallToken(ctx context.Context, token string, rec *InstallToken, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing install token record: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, installTokenKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing install token: %w", err)
	}
	return nil
}

// ConsumeInstallToken removes and returns the record in one GETDEL, so
// concurrent consumers cannot both observe the same live entry.
func (s *RedisStore) ConsumeInstallToken(ctx context.Context, token string) (*InstallToken, error) {
	data, err := s.client.GetDel(ctx, installTokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming install token: %w", err)
	}

	var rec InstallToken
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("deserializing install token record: %w", err)
	}
	return &rec, nil
}

// SaveService writes service:<id> and adds the id to the services set.
func (s *RedisStore) SaveService(ctx context.Context, svc *ConnectedService) error {
	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("serializing service record: %w", err)
	}

	if err := s.client.Set(ctx, serviceKeyPrefix+svc.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("storing service record: %w", err)
	}
	if err := s.client.SAdd(ctx, servicesSetKey, svc.ID).Err(); err != nil {
		return fmt.Errorf("adding service to set: %w", err)
	}
	return nil
}

// UpdateService overwrites an existing service record.
func (s *RedisStore) UpdateService(ctx context.Context, svc *ConnectedService) error {
	exists, err := s.client.Exists(ctx, serviceKeyPrefix+svc.ID).Result()
	if err != nil {
		return fmt.Errorf("checking service record: %w", err)
	}
	if exists == 0 {
		return ErrServiceNotFound
	}

	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("serializing service record: %w", err)
	}
	if err := s.client.Set(ctx, serviceKeyPrefix+svc.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("updating service record: %w", err)
	}
	return nil
}

// ListServices reads the services set and fetches each record. Records
// that fail to deserialize are skipped with a warning rather than
// failing the whole listing.
func (s *RedisStore) ListServices(ctx context.Context) ([]*ConnectedService, error) {
	ids, err := s.client.SMembers(ctx, servicesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing service ids: %w", err)
	}

	services := make([]*ConnectedService, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, serviceKeyPrefix+id).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading service %s: %w", id, err)
		}

		var svc ConnectedService
		if err := json.Unmarshal([]byte(data), &svc); err != nil {
			s.logger.Warn("skipping undecodable service record", "id", id, "error", err)
			continue
		}
		services = append(services, &svc)
	}
	return services, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
