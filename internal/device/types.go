package device

import (
	"maps"
	"time"
)

// Status is a device's connectivity as last observed by the relay.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// Info is the free-form metadata an agent reports about itself
// (hostname, OS, agent version, ...). Stored as a JSON object.
type Info map[string]any

// Device is a remote agent known to the relay.
type Device struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Info       Info       `json:"info"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeepCopy returns a copy whose Info map can be modified independently.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.LastActive != nil {
		t := *d.LastActive
		cp.LastActive = &t
	}
	if d.Info != nil {
		cp.Info = maps.Clone(d.Info)
	}
	return &cp
}

// IsOnline reports whether the device is recorded as online.
func (d *Device) IsOnline() bool {
	return d.Status == StatusOnline
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status Status
}

// RegistrationCode is a one-time credential an agent redeems to enrol.
type RegistrationCode struct {
	Code       string     `json:"code"`
	DeviceName string     `json:"device_name"`
	CreatedBy  *int64     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
}

// Usable reports whether the code can still be redeemed at now.
func (c *RegistrationCode) Usable(now time.Time) error {
	if c.UsedAt != nil {
		return ErrCodeUsed
	}
	if !now.Before(c.ExpiresAt) {
		return ErrCodeExpired
	}
	return nil
}
