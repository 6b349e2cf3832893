package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
)

// MessageType is the mandatory "type" field of every frame.
type MessageType string

// Inbound message types.
const (
	TypeAuth            MessageType = "AUTH"
	TypeCommandResponse MessageType = "COMMAND_RESPONSE"
	TypeDeviceInfo      MessageType = "DEVICE_INFO"
)

// Outbound message types.
const (
	TypeCommand              MessageType = "COMMAND"
	TypeCommandStatusChanged MessageType = "COMMAND_STATUS_CHANGED"
	TypeDeviceStatusChanged  MessageType = "DEVICE_STATUS_CHANGED"
	TypeDeviceInfoUpdated    MessageType = "DEVICE_INFO_UPDATED"
	TypeDeviceRemoved        MessageType = "DEVICE_REMOVED"
)

// ─── Inbound ────────────────────────────────────────────────────────

// Inbound is one decoded client frame: *AuthMessage,
// *CommandResponseMessage or *DeviceInfoMessage.
type Inbound interface {
	Type() MessageType
}

// AuthMessage binds a connection to a device or a dashboard user.
// Exactly one of DeviceID and UserID is set.
type AuthMessage struct {
	DeviceID string `json:"deviceId,omitempty"`
	Token    string `json:"token,omitempty"`
	UserID   *int64 `json:"userId,omitempty"`
}

// CommandResponseMessage resolves a pending command.
type CommandResponseMessage struct {
	CommandID int64          `json:"commandId"`
	Status    command.Status `json:"status"`
	Result    string         `json:"result,omitempty"`
}

// DeviceInfoMessage carries fields to merge into the device's info.
type DeviceInfoMessage struct {
	Info device.Info `json:"info"`
}

func (*AuthMessage) Type() MessageType            { return TypeAuth }
func (*CommandResponseMessage) Type() MessageType { return TypeCommandResponse }
func (*DeviceInfoMessage) Type() MessageType      { return TypeDeviceInfo }

// DecodeInbound parses and validates one inbound frame. Unknown fields are
// ignored. It returns ErrUnknownMessageType for unrecognised types and
// ErrMalformedMessage for anything else it cannot accept.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	var msg Inbound
	switch envelope.Type {
	case TypeAuth:
		msg = &AuthMessage{}
	case TypeCommandResponse:
		msg = &CommandResponseMessage{}
	case TypeDeviceInfo:
		msg = &DeviceInfoMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, envelope.Type, err)
	}
	if err := validateInbound(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validateInbound(msg Inbound) error {
	switch m := msg.(type) {
	case *AuthMessage:
		hasDevice, hasUser := m.DeviceID != "", m.UserID != nil
		if hasDevice == hasUser {
			return fmt.Errorf("%w: AUTH needs exactly one of deviceId and userId", ErrMalformedMessage)
		}
		if hasDevice {
			if err := device.ValidateDeviceID(m.DeviceID); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
		}
	case *CommandResponseMessage:
		if m.CommandID <= 0 {
			return fmt.Errorf("%w: COMMAND_RESPONSE needs a commandId", ErrMalformedMessage)
		}
		if !m.Status.Terminal() {
			return fmt.Errorf("%w: COMMAND_RESPONSE status %q", ErrMalformedMessage, m.Status)
		}
	case *DeviceInfoMessage:
		if m.Info == nil {
			return fmt.Errorf("%w: DEVICE_INFO needs an info object", ErrMalformedMessage)
		}
	}
	return nil
}

// ─── Outbound ───────────────────────────────────────────────────────

// Outbound is a frame the relay sends. Each concrete type carries its own
// "type" field so it marshals to the wire shape directly.
type Outbound interface {
	MessageType() MessageType
}

// CommandMessage delivers a command to its device.
type CommandMessage struct {
	Type    MessageType      `json:"type"`
	Command *command.Command `json:"command"`
}

// CommandStatusChanged announces a resolved command.
type CommandStatusChanged struct {
	Type      MessageType    `json:"type"`
	CommandID int64          `json:"commandId"`
	DeviceID  string         `json:"deviceId"`
	Status    command.Status `json:"status"`
	Result    string         `json:"result,omitempty"`
}

// DeviceStatusChanged announces an online/offline transition.
type DeviceStatusChanged struct {
	Type     MessageType   `json:"type"`
	DeviceID string        `json:"deviceId"`
	Status   device.Status `json:"status"`
}

// DeviceInfoUpdated announces a device's merged info.
type DeviceInfoUpdated struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"deviceId"`
	Info     device.Info `json:"info"`
}

// DeviceRemoved announces a deleted device.
type DeviceRemoved struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"deviceId"`
}

// NewCommandMessage wraps c for delivery to its device.
func NewCommandMessage(c *command.Command) CommandMessage {
	return CommandMessage{Type: TypeCommand, Command: c}
}

// NewCommandStatusChanged reports c's current status and result to dashboards.
func NewCommandStatusChanged(c *command.Command) CommandStatusChanged {
	return CommandStatusChanged{
		Type:      TypeCommandStatusChanged,
		CommandID: c.ID,
		DeviceID:  c.DeviceID,
		Status:    c.Status,
		Result:    c.Result,
	}
}

// NewDeviceStatusChanged reports an online/offline transition for deviceID.
func NewDeviceStatusChanged(deviceID string, status device.Status) DeviceStatusChanged {
	return DeviceStatusChanged{Type: TypeDeviceStatusChanged, DeviceID: deviceID, Status: status}
}

// NewDeviceInfoUpdated reports the info deviceID last sent.
func NewDeviceInfoUpdated(deviceID string, info device.Info) DeviceInfoUpdated {
	return DeviceInfoUpdated{Type: TypeDeviceInfoUpdated, DeviceID: deviceID, Info: info}
}

// NewDeviceRemoved reports that deviceID was deleted.
func NewDeviceRemoved(deviceID string) DeviceRemoved {
	return DeviceRemoved{Type: TypeDeviceRemoved, DeviceID: deviceID}
}

// MessageType implements Outbound.
func (m CommandMessage) MessageType() MessageType { return m.Type }

// MessageType implements Outbound.
func (m CommandStatusChanged) MessageType() MessageType { return m.Type }

// MessageType implements Outbound.
func (m DeviceStatusChanged) MessageType() MessageType { return m.Type }

// MessageType implements Outbound.
func (m DeviceInfoUpdated) MessageType() MessageType { return m.Type }

// MessageType implements Outbound.
func (m DeviceRemoved) MessageType() MessageType { return m.Type }
