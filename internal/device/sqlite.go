package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// knownDevicesSchema creates the store's single table. The schema is
// deliberately narrow: identity plus the coordinates needed to fetch a
// manifest again after a restart.
const knownDevicesSchema = `
	CREATE TABLE IF NOT EXISTS known_devices (
		id            TEXT PRIMARY KEY,
		scheme        TEXT NOT NULL,
		host          TEXT NOT NULL,
		port          INTEGER NOT NULL,
		manifest_path TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures its table
// exists. The db parameter should be an open SQLite connection.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, knownDevicesSchema); err != nil {
		return nil, fmt.Errorf("creating known_devices table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadKnownDevices returns every persisted device, ordered by ID.
func (s *SQLiteStore) LoadKnownDevices(ctx context.Context) ([]KnownDevice, error) {
	query := `
		SELECT id, scheme, host, port, manifest_path
		FROM known_devices
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying known devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var devices []KnownDevice
	for rows.Next() {
		var k KnownDevice
		if err := rows.Scan(&k.ID, &k.Endpoint.Scheme, &k.Endpoint.Host, &k.Endpoint.Port, &k.ManifestPath); err != nil {
			return nil, fmt.Errorf("scanning known device: %w", err)
		}
		devices = append(devices, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating known devices: %w", err)
	}

	return devices, nil
}

// SaveDevice inserts or updates one device by ID.
func (s *SQLiteStore) SaveDevice(ctx context.Context, known KnownDevice) error {
	query := `
		INSERT INTO known_devices (id, scheme, host, port, manifest_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scheme = excluded.scheme,
			host = excluded.host,
			port = excluded.port,
			manifest_path = excluded.manifest_path,
			updated_at = excluded.updated_at`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, query, known.ID, known.Endpoint.Scheme, known.Endpoint.Host,
		known.Endpoint.Port, known.ManifestPath, now); err != nil {
		return fmt.Errorf("saving device %s: %w", known.ID, err)
	}
	return nil
}

// DeleteDevice removes one device by ID. Absent IDs are a no-op.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM known_devices WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return nil
}
