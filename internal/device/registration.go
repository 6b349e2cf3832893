package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRegistrationCode stores a new registration code. An empty Code is
// generated; CreatedAt is stamped.
func (r *SQLiteRepository) CreateRegistrationCode(ctx context.Context, c *RegistrationCode) error {
	if c.Code == "" {
		c.Code = GenerateRegistrationCode()
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: registration code needs an expiry", ErrInvalidDevice)
	}

	c.CreatedAt = r.now().UTC().Truncate(time.Second)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registration_codes (code, device_name, created_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.Code, c.DeviceName, c.CreatedBy,
		c.CreatedAt.Format(time.RFC3339), c.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting registration code: %w", err)
	}
	return nil
}

// Redeem consumes a registration code and creates its device in one transaction.
func (r *SQLiteRepository) Redeem(ctx context.Context, code, deviceID string) (*Device, error) {
	if deviceID == "" {
		deviceID = GenerateDeviceID()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rc, err := getRegistrationCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if err := rc.Usable(r.now()); err != nil {
		return nil, err
	}

	d := &Device{DeviceID: deviceID, Name: rc.DeviceName}
	if err := r.create(ctx, tx, d); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE registration_codes SET used_at = ?, device_id = ? WHERE code = ? AND used_at IS NULL`,
		r.timestamp(), deviceID, code,
	)
	if err != nil {
		return nil, fmt.Errorf("consuming registration code: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return nil, ErrCodeUsed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing registration: %w", err)
	}
	return d, nil
}

func getRegistrationCode(ctx context.Context, tx *sql.Tx, code string) (*RegistrationCode, error) {
	var c RegistrationCode
	var createdBy sql.NullInt64
	var createdAt, expiresAt string
	var usedAt, deviceID sql.NullString

	err := tx.QueryRowContext(ctx,
		`SELECT code, device_name, created_by, created_at, expires_at, used_at, device_id
		 FROM registration_codes WHERE code = ?`, code,
	).Scan(&c.Code, &c.DeviceName, &createdBy, &createdAt, &expiresAt, &usedAt, &deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("querying registration code: %w", err)
	}

	if createdBy.Valid {
		c.CreatedBy = &createdBy.Int64
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	if c.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if usedAt.Valid {
		t, _ := time.Parse(time.RFC3339, usedAt.String) //nolint:errcheck // format is controlled
		c.UsedAt = &t
	}
	c.DeviceID = deviceID.String
	return &c, nil
}
