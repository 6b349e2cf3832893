package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxCommandLength = 128
	maxPayloadBytes  = 64 << 10

	defaultLimit = 50
	maxLimit     = 200
)

// Repository defines command persistence.
type Repository interface {
	// Create inserts a pending command.
	Create(ctx context.Context, req CreateRequest) (*Command, error)

	// GetByID retrieves a command.
	// Returns ErrCommandNotFound if it does not exist.
	GetByID(ctx context.Context, id int64) (*Command, error)

	// List returns commands matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Command, error)

	// Complete resolves a pending command that targets deviceID.
	// Returns ErrCommandNotFound if no such command targets deviceID and
	// ErrAlreadyTerminal if it was already resolved.
	Complete(ctx context.Context, id int64, deviceID string, status Status, result string) (*Command, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const commandColumns = `id, device_id, command, payload, status, result, created_by, created_at, completed_at`

// Validate checks a create request.
func (req CreateRequest) Validate() error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidCommand)
	}
	name := strings.TrimSpace(req.Command)
	if name == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	if len(name) > maxCommandLength {
		return fmt.Errorf("%w: command exceeds %d characters", ErrInvalidCommand, maxCommandLength)
	}
	if len(req.Payload) > maxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidCommand, maxPayloadBytes)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidCommand)
	}
	return nil
}

// Create inserts a pending command.
func (r *SQLiteRepository) Create(ctx context.Context, req CreateRequest) (*Command, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var payload sql.NullString
	if len(req.Payload) > 0 {
		payload = sql.NullString{String: string(req.Payload), Valid: true}
	}

	now := r.now().UTC().Truncate(time.Second)
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO commands (device_id, command, payload, status, result, created_by, created_at)
		 VALUES (?, ?, ?, ?, '', ?, ?)`,
		req.DeviceID, strings.TrimSpace(req.Command), payload, string(StatusPending),
		req.CreatedBy, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting command: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading command id: %w", err)
	}

	return &Command{
		ID:        id,
		DeviceID:  req.DeviceID,
		Command:   strings.TrimSpace(req.Command),
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}, nil
}

// GetByID retrieves a command.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Command, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	c, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return c, nil
}

// List returns commands matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Command, error) {
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
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from parameterised conditions
		`SELECT `+commandColumns+` FROM commands`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// Complete resolves a pending command with a single conditional update.
func (r *SQLiteRepository) Complete(ctx context.Context, id int64, deviceID string, status Status, result string) (*Command, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := r.now().UTC().Truncate(time.Second)
	row := r.db.QueryRowContext(ctx,
		`UPDATE commands SET status = ?, result = ?, completed_at = ?
		 WHERE id = ? AND device_id = ? AND status = ?
		 RETURNING `+commandColumns,
		string(status), result, now.Format(time.RFC3339), id, deviceID, string(StatusPending),
	)
	c, err := scanCommand(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completing command: %w", err)
	}

	// Nothing updated: tell missing apart from already resolved.
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.DeviceID != deviceID {
		return nil, ErrCommandNotFound
	}
	return nil, ErrAlreadyTerminal
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(s rowScanner) (*Command, error) {
	var c Command
	var payload, completedAt sql.NullString
	var createdBy sql.NullInt64
	var status, createdAt string

	if err := s.Scan(&c.ID, &c.DeviceID, &c.Command, &payload, &status, &c.Result, &createdBy, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if payload.Valid && payload.String != "" {
		c.Payload = json.RawMessage(payload.String)
	}
	if createdBy.Valid {
		c.CreatedBy = &createdBy.Int64
	}

	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		c.CompletedAt = &t
	}
	return &c, nil
}
