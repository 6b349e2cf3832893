package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByDeviceID retrieves a device by its external identity.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)

	// List retrieves devices matching the filter, ordered by DeviceID.
	List(ctx context.Context, filter ListFilter) ([]Device, error)

	// Create inserts a new device. ID, timestamps and a default status are
	// filled in on success.
	// Returns ErrDeviceExists if the DeviceID is taken.
	Create(ctx context.Context, device *Device) error

	// Rename changes a device's display name.
	Rename(ctx context.Context, deviceID, name string) error

	// Delete removes a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, deviceID string) error

	// SetStatusIf sets the status to `to` when the current status equals
	// `from`, or unconditionally when `from` is empty, stamping lastActive.
	// Reports whether a row was updated. A missing device reports false.
	SetStatusIf(ctx context.Context, deviceID string, from, to Status) (bool, error)

	// MergeInfo merges info into the stored Info object (RFC 7396: a null
	// value removes the key), stamps lastActive, and returns the result.
	// Returns ErrDeviceNotFound if the device does not exist.
	MergeInfo(ctx context.Context, deviceID string, info Info) (Info, error)

	// MarkAllOffline sets every online device offline. Used at startup,
	// when no connection can exist yet.
	MarkAllOffline(ctx context.Context) (int64, error)

	// CreateRegistrationCode stores a new registration code.
	CreateRegistrationCode(ctx context.Context, code *RegistrationCode) error

	// Redeem consumes a registration code and creates the device it
	// authorises, atomically. deviceID may be empty to have one generated.
	Redeem(ctx context.Context, code, deviceID string) (*Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const deviceColumns = `id, device_id, name, status, last_active, info, created_at, updated_at`

// GetByDeviceID retrieves a device by its external identity.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by device_id: %w", err)
	}
	return d, nil
}

// List retrieves devices matching the filter.
func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY device_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	return r.create(ctx, r.db, d)
}

// execer is the subset of *sql.DB and *sql.Tx used for writes.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) create(ctx context.Context, db execer, d *Device) error {
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if d.Info == nil {
		d.Info = Info{}
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}

	infoJSON, err := json.Marshal(d.Info)
	if err != nil {
		return fmt.Errorf("marshalling info: %w", err)
	}

	now := r.now().UTC().Truncate(time.Second)
	result, err := db.ExecContext(ctx,
		`INSERT INTO devices (device_id, name, status, last_active, info, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, strings.TrimSpace(d.Name), string(d.Status), nullableTime(d.LastActive),
		string(infoJSON), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	d.ID = id
	d.Name = strings.TrimSpace(d.Name)
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// Rename changes a device's display name.
func (r *SQLiteRepository) Rename(ctx context.Context, deviceID, name string) error {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET name = ?, updated_at = ? WHERE device_id = ?`,
		name, r.timestamp(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("renaming device: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result)
}

// SetStatusIf is a compare-and-set on the status column.
func (r *SQLiteRepository) SetStatusIf(ctx context.Context, deviceID string, from, to Status) (bool, error) {
	if !to.Valid() || (from != "" && !from.Valid()) {
		return false, ErrInvalidStatus
	}

	now := r.timestamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, last_active = ?, updated_at = ?
		 WHERE device_id = ? AND (? = '' OR status = ?)`,
		string(to), now, now, deviceID, string(from), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating device status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// MergeInfo merges info into the stored Info in a single statement.
func (r *SQLiteRepository) MergeInfo(ctx context.Context, deviceID string, info Info) (Info, error) {
	if err := ValidateInfo(info); err != nil {
		return nil, err
	}
	patch, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshalling info: %w", err)
	}

	now := r.timestamp()
	var merged string
	err = r.db.QueryRowContext(ctx,
		`UPDATE devices SET info = json_patch(info, ?), last_active = ?, updated_at = ?
		 WHERE device_id = ?
		 RETURNING info`,
		string(patch), now, now, deviceID,
	).Scan(&merged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("merging device info: %w", err)
	}

	out := Info{}
	if err := json.Unmarshal([]byte(merged), &out); err != nil {
		return nil, fmt.Errorf("unmarshalling merged info: %w", err)
	}
	return out, nil
}

// MarkAllOffline sets every online device offline.
func (r *SQLiteRepository) MarkAllOffline(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusOffline), r.timestamp(), string(StatusOnline),
	)
	if err != nil {
		return 0, fmt.Errorf("resetting device status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*Device, error) {
	var d Device
	var status, infoJSON, createdAt, updatedAt string
	var lastActive sql.NullString

	if err := s.Scan(&d.ID, &d.DeviceID, &d.Name, &status, &lastActive, &infoJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Status = Status(status)
	if lastActive.Valid {
		if t, err := time.Parse(time.RFC3339, lastActive.String); err == nil {
			d.LastActive = &t
		}
	}

	d.Info = Info{}
	if err := json.Unmarshal([]byte(infoJSON), &d.Info); err != nil {
		return nil, fmt.Errorf("unmarshalling info: %w", err)
	}

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
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

// nullableTime returns a sql.NullString for optional times (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
