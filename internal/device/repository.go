package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows the Persister to be tested without a database.
type Repository interface {
	// Get retrieves a stored device by identity.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, ieee mesh.EUI64) (mesh.DeviceInfo, error)

	// List retrieves all stored devices, oldest join first.
	List(ctx context.Context) ([]mesh.DeviceInfo, error)

	// Save inserts or replaces a device row.
	Save(ctx context.Context, info mesh.DeviceInfo) error

	// Touch updates last_seen for a stored device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Touch(ctx context.Context, ieee mesh.EUI64, seen time.Time) error

	// Delete removes a device by identity.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, ieee mesh.EUI64) error
}

// SQLiteRepository implements Repository on the mesh_devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT ieee, nwk, status, joined_at, last_seen FROM mesh_devices`

// Get retrieves a stored device by identity.
func (r *SQLiteRepository) Get(ctx context.Context, ieee mesh.EUI64) (mesh.DeviceInfo, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE ieee = ?`, ieee.String())

	info, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mesh.DeviceInfo{}, ErrDeviceNotFound
		}
		return mesh.DeviceInfo{}, fmt.Errorf("querying device %s: %w", ieee, err)
	}
	return info, nil
}

// List retrieves all stored devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]mesh.DeviceInfo, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY joined_at, ieee`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []mesh.DeviceInfo
	for rows.Next() {
		info, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Save inserts or replaces a device row. joined_at is kept from the first insert.
func (r *SQLiteRepository) Save(ctx context.Context, info mesh.DeviceInfo) error {
	now := time.Now().UTC()
	joined := info.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	seen := info.LastSeen
	if seen.IsZero() {
		seen = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mesh_devices (ieee, nwk, status, joined_at, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ieee) DO UPDATE SET
			nwk = excluded.nwk,
			status = excluded.status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		info.IEEE.String(),
		int64(info.NWK),
		info.Status.String(),
		formatTime(joined),
		formatTime(seen),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", info.IEEE, err)
	}
	return nil
}

// Touch updates last_seen for a stored device.
func (r *SQLiteRepository) Touch(ctx context.Context, ieee mesh.EUI64, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE mesh_devices SET last_seen = ?, updated_at = ? WHERE ieee = ?`,
		formatTime(seen), formatTime(time.Now().UTC()), ieee.String(),
	)
	if err != nil {
		return fmt.Errorf("touching device %s: %w", ieee, err)
	}
	return expectOneRow(result)
}

// Delete removes a device by identity.
func (r *SQLiteRepository) Delete(ctx context.Context, ieee mesh.EUI64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM mesh_devices WHERE ieee = ?`, ieee.String())
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", ieee, err)
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is implemented by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (mesh.DeviceInfo, error) {
	var (
		ieee, status       string
		nwk                int64
		joinedAt, lastSeen string
	)
	if err := scanner.Scan(&ieee, &nwk, &status, &joinedAt, &lastSeen); err != nil {
		return mesh.DeviceInfo{}, err
	}

	var info mesh.DeviceInfo
	var err error

	if info.IEEE, err = mesh.ParseEUI64(ieee); err != nil {
		return mesh.DeviceInfo{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	if nwk < 0 || nwk > 0xffff {
		return mesh.DeviceInfo{}, fmt.Errorf("%w: nwk %d out of range", ErrCorruptRow, nwk)
	}
	info.NWK = mesh.NWK(nwk)

	if info.Status, err = mesh.ParseStatus(status); err != nil {
		return mesh.DeviceInfo{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	if info.JoinedAt, err = time.Parse(time.RFC3339Nano, joinedAt); err != nil {
		return mesh.DeviceInfo{}, fmt.Errorf("%w: joined_at: %w", ErrCorruptRow, err)
	}
	if info.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return mesh.DeviceInfo{}, fmt.Errorf("%w: last_seen: %w", ErrCorruptRow, err)
	}
	return info, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
