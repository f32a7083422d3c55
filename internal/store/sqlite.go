// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: DELETE RETURNING provides the atomic consume primitive for install tokens

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using an embedded SQLite
// database. It is the single-binary alternative to the Redis backend.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS install_tokens (
			token TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_install_tokens_expires
			ON install_tokens(expires_at);

		CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			connected_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_services_connected
			ON services(connected_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// PutInstallToken persists the record keyed by the token value and
// opportunistically evicts entries already past their expiry. SQLite has
// no native TTL, so eviction is lazy; the consume-time expiry check
// covers the window between expiry and eviction.
func (s *SQLiteStore) PutInstallToken(ctx context.Context, token string, rec *InstallToken, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing install token record: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM install_tokens WHERE expires_at < ?", now); err != nil {
		s.logger.Warn("evicting expired install tokens failed", "error", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO install_tokens (token, data, expires_at) VALUES (?, ?, ?)",
		token, string(data), now.Add(ttl))
	if err != nil {
		return fmt.Errorf("storing install token: %w", err)
	}
	return nil
}

// ConsumeInstallToken removes and returns the record in a single
// DELETE ... RETURNING statement, so concurrent consumers cannot both
// observe the same live entry.
func (s *SQLiteStore) ConsumeInstallToken(ctx context.Context, token string) (*InstallToken, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"DELETE FROM install_tokens WHERE token = ? RETURNING data", token).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
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

// SaveService persists a new connected-service record.
func (s *SQLiteStore) SaveService(ctx context.Context, svc *ConnectedService) error {
	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("serializing service record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO services (id, data, connected_at) VALUES (?, ?, ?)",
		svc.ID, string(data), svc.ConnectedAt.UTC())
	if err != nil {
		return fmt.Errorf("storing service record: %w", err)
	}
	return nil
}

// UpdateService overwrites an existing service record.
func (s *SQLiteStore) UpdateService(ctx context.Context, svc *ConnectedService) error {
	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("serializing service record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE services SET data = ? WHERE id = ?", string(data), svc.ID)
	if err != nil {
		return fmt.Errorf("updating service record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// ListServices returns all connected-service records.
func (s *SQLiteStore) ListServices(ctx context.Context) ([]*ConnectedService, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, data FROM services")
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var services []*ConnectedService
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning service row: %w", err)
		}

		var svc ConnectedService
		if err := json.Unmarshal([]byte(data), &svc); err != nil {
			s.logger.Warn("skipping undecodable service record", "id", id, "error", err)
			continue
		}
		services = append(services, &svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service rows: %w", err)
	}
	return services, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
