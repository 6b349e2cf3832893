// Package activity stores the relay's append-only activity log.
//
// Every state-changing event (device connected or disconnected, command
// created or resolved, device removed) appends one Activity, as do
// administrative actions taken through the HTTP API. Records are
// never updated or deleted; the schema enforces this with triggers.
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Activity types written by the relay.
const (
	TypeDeviceConnected    = "device_connected"
	TypeDeviceDisconnected = "device_disconnected"
	TypeDeviceUnreachable  = "device_unreachable"
	TypeDeviceRegistered   = "device_registered"
	TypeDeviceRemoved      = "device_removed"
	TypeCommandCreated     = "command_created"
	TypeCommandCompleted   = "command_completed"
	TypeCommandFailed      = "command_failed"

	TypeRegistrationCodeCreated = "registration_code_created"
	TypeUserCreated             = "user_created"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidActivity is returned when a record lacks its type or description.
var ErrInvalidActivity = errors.New("activity: invalid")

// Activity is a single immutable log record.
type Activity struct {
	ID           int64          `json:"id"`
	DeviceID     string         `json:"device_id,omitempty"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Status       string         `json:"status,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter controls which activities List returns.
type Filter struct {
	DeviceID     string // optional
	ActivityType string // optional
	Limit        int    // default 50, max 200
	Offset       int
}

// ListResult is one page of activities, newest first.
type ListResult struct {
	Activities []Activity `json:"activities"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// Repository defines the activity log operations. There is deliberately
// no update or delete.
type Repository interface {
	Create(ctx context.Context, a *Activity) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores activities in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new activity repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create appends an activity. ID and CreatedAt are assigned.
func (r *SQLiteRepository) Create(ctx context.Context, a *Activity) error {
	if a.ActivityType == "" || a.Description == "" {
		return fmt.Errorf("%w: activity_type and description are required", ErrInvalidActivity)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	var details sql.NullString
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshalling activity details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (device_id, activity_type, description, status, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullableString(a.DeviceID), a.ActivityType, a.Description,
		nullableString(a.Status), details, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading activity id: %w", err)
	}
	a.ID = id
	return nil
}

// List returns activities matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.ActivityType != "" {
		conditions = append(conditions, "activity_type = ?")
		args = append(args, filter.ActivityType)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM activities " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting activities: %w", err)
	}

	query := "SELECT id, device_id, activity_type, description, status, details, created_at FROM activities " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	activities := []Activity{}
	for rows.Next() {
		var a Activity
		var deviceID, status, details sql.NullString
		var createdAt string

		if err := rows.Scan(&a.ID, &deviceID, &a.ActivityType, &a.Description, &status, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.DeviceID = deviceID.String
		a.Status = status.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				a.Details = m
			}
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing activity timestamp %q: %w", createdAt, err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}

	return &ListResult{
		Activities: activities,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
