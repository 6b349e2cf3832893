package command

import (
	"encoding/json"
	"time"
)

// Status is a command's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Command is an instruction for one device agent.
type Command struct {
	ID          int64           `json:"id"`
	DeviceID    string          `json:"device_id"`
	Command     string          `json:"command"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Result      string          `json:"result"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// CreateRequest carries the caller-supplied fields of a new command.
type CreateRequest struct {
	DeviceID  string          `json:"device_id"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedBy *int64          `json:"-"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DeviceID string
	Status   Status
	Limit    int
	Offset   int
}
