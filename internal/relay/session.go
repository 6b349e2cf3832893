package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
)

// State is a connection's protocol state.
type State int

const (
	StateUnbound State = iota
	StateDeviceBound
	StateUserBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateDeviceBound:
		return "device_bound"
	case StateUserBound:
		return "user_bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOptions carries what the upgrade request already established.
type SessionOptions struct {
	// UserID is set when the upgrade carried a valid user token. A later
	// AUTH{userId} must then name the same user.
	UserID *int64

	// RemoteAddr is used for logging only.
	RemoteAddr string
}

// Session is the protocol state of one connection. HandleMessage and Close must
// be called from the goroutine that reads the connection.
type Session struct {
	hub       *Hub
	handle    Handle
	transport Transport
	opts      SessionOptions
	logger    *logging.Logger

	state    State
	deviceID string
	userID   int64

	closeOnce sync.Once
}

// Open registers t and returns its session in the Unbound state.
func (h *Hub) Open(t Transport, opts SessionOptions) *Session {
	handle := h.registry.Register(t)
	s := &Session{
		hub:       h,
		handle:    handle,
		transport: t,
		opts:      opts,
		logger:    h.logger.With("handle", uint64(handle)),
	}
	s.logger.Debug("connection opened", "remote_addr", opts.RemoteAddr)
	return s
}

// Handle returns the session's registry handle.
func (s *Session) Handle() Handle { return s.handle }

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// DeviceID returns the bound device id, if any.
func (s *Session) DeviceID() string { return s.deviceID }

// HandleMessage processes one inbound frame. Invalid frames are logged and
// dropped; the connection stays open. A panic closes only this connection.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.metrics.panicked()
			s.logger.Error("panic in connection handler, closing connection", "panic", r)
			s.transport.Close()
		}
	}()

	if s.state == StateClosed {
		return
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		reason := dropMalformed
		if errors.Is(err, ErrUnknownMessageType) {
			reason = dropUnknownType
		}
		s.hub.metrics.dropped(reason)
		s.logger.Warn("dropping inbound message", "reason", reason, "error", err)
		return
	}
	s.hub.metrics.received(msg.Type())

	switch m := msg.(type) {
	case *AuthMessage:
		s.handleAuth(ctx, m)
	case *CommandResponseMessage:
		s.handleCommandResponse(ctx, m)
	case *DeviceInfoMessage:
		s.handleDeviceInfo(ctx, m)
	}
}

func (s *Session) drop(reason, msg string, args ...any) {
	s.hub.metrics.dropped(reason)
	s.logger.Warn(msg, append([]any{"state", s.state.String()}, args...)...)
}

func (s *Session) handleAuth(ctx context.Context, m *AuthMessage) {
	if s.state != StateUnbound {
		s.drop(dropPrecondition, "AUTH on an already bound connection")
		return
	}
	if m.UserID != nil {
		s.authUser(*m.UserID)
		return
	}
	s.authDevice(ctx, m.DeviceID, m.Token)
}

func (s *Session) authUser(userID int64) {
	if s.opts.UserID != nil && *s.opts.UserID != userID {
		s.drop(dropUnauthorized, "AUTH userId does not match the connection token", "user_id", userID)
		return
	}

	s.hub.registry.BindUser(s.handle, userID)
	s.state = StateUserBound
	s.userID = userID
	s.logger = s.logger.With("user_id", userID)
	s.logger.Info("dashboard connected")
}

func (s *Session) authDevice(ctx context.Context, deviceID, token string) {
	switch {
	case token != "":
		if s.hub.opts.Tokens == nil {
			s.drop(dropUnauthorized, "device token presented but no verifier configured", "device_id", deviceID)
			return
		}
		if err := s.hub.opts.Tokens.VerifyDevice(token, deviceID); err != nil {
			s.drop(dropUnauthorized, "device token rejected", "device_id", deviceID, "error", err)
			return
		}
	case s.hub.opts.RequireDeviceToken:
		s.drop(dropUnauthorized, "device AUTH without token", "device_id", deviceID)
		return
	}

	superseded, replaced := s.hub.registry.BindDevice(s.handle, deviceID)
	s.state = StateDeviceBound
	s.deviceID = deviceID
	s.logger = s.logger.With("device_id", deviceID)

	if replaced {
		s.logger.Warn("device reconnected, closing previous connection", "previous_handle", uint64(superseded.Handle))
		superseded.Transport.Close()
	}

	if !s.hub.markOnline(ctx, deviceID, s.handle) {
		s.logger.Warn("connected device is not registered in the store")
		return
	}
	s.logger.Info("device connected")
}

func (s *Session) handleCommandResponse(ctx context.Context, m *CommandResponseMessage) {
	if s.state != StateDeviceBound {
		s.drop(dropPrecondition, "COMMAND_RESPONSE from a connection that is not a device")
		return
	}

	cmd, err := s.hub.commands.Complete(ctx, m.CommandID, s.deviceID, m.Status, m.Result)
	switch {
	case errors.Is(err, command.ErrCommandNotFound):
		s.drop(dropNotFound, "COMMAND_RESPONSE for unknown command", "command_id", m.CommandID)
		return
	case errors.Is(err, command.ErrAlreadyTerminal):
		s.drop(dropPrecondition, "COMMAND_RESPONSE for a resolved command", "command_id", m.CommandID)
		return
	case err != nil:
		s.logger.Error("failed to resolve command", "command_id", m.CommandID, "error", err)
		return
	}

	s.hub.commandResolved(ctx, cmd)
}

func (s *Session) handleDeviceInfo(ctx context.Context, m *DeviceInfoMessage) {
	if s.state != StateDeviceBound {
		s.drop(dropPrecondition, "DEVICE_INFO from a connection that is not a device")
		return
	}

	unlock := s.hub.locks.lock(s.deviceID)
	merged, err := s.hub.devices.MergeInfo(ctx, s.deviceID, m.Info)
	unlock()

	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		s.drop(dropNotFound, "DEVICE_INFO for a device not in the store")
		return
	case errors.Is(err, device.ErrInvalidDevice):
		s.drop(dropMalformed, "DEVICE_INFO rejected", "error", err)
		return
	case err != nil:
		s.logger.Error("failed to merge device info", "error", err)
		return
	}

	s.hub.broadcaster.Broadcast(NewDeviceInfoUpdated(s.deviceID, merged), NoExclude)
}

// Close runs connection cleanup exactly once. cause is the error that
// ended the read loop; nil or a close frame counts as graceful.
func (s *Session) Close(ctx context.Context, cause error) {
	s.closeOnce.Do(func() {
		s.state = StateClosed
		s.transport.Close()

		if isGracefulClose(cause) {
			s.logger.Debug("connection closed")
		} else {
			s.logger.Warn("connection lost", "error", cause)
		}

		binding, ok := s.hub.registry.Unregister(s.handle)
		if !ok || binding.DeviceID == "" {
			return
		}
		if !binding.Owner {
			s.logger.Debug("superseded connection closed, device status unchanged")
			return
		}

		cleanupCtx, cancel := cleanupContext(ctx)
		defer cancel()
		s.hub.markOffline(cleanupCtx, binding.DeviceID, activity.TypeDeviceDisconnected, "Device disconnected")
	})
}

// commandResolved logs and broadcasts a command that just became terminal.
func (h *Hub) commandResolved(ctx context.Context, cmd *command.Command) {
	activityType := activity.TypeCommandCompleted
	description := fmt.Sprintf("Command %q completed", cmd.Command)
	if cmd.Status == command.StatusFailed {
		activityType = activity.TypeCommandFailed
		description = fmt.Sprintf("Command %q failed", cmd.Command)
	}
	h.record(ctx, &activity.Activity{
		DeviceID:     cmd.DeviceID,
		ActivityType: activityType,
		Description:  description,
		Status:       string(cmd.Status),
		Details: map[string]any{
			"command_id": cmd.ID,
			"result":     cmd.Result,
		},
	})

	if h.opts.Telemetry != nil {
		var latency time.Duration
		if cmd.CompletedAt != nil {
			latency = cmd.CompletedAt.Sub(cmd.CreatedAt)
		}
		h.opts.Telemetry.CommandResult(cmd.DeviceID, cmd.Command, string(cmd.Status), latency)
	}

	h.broadcaster.Broadcast(NewCommandStatusChanged(cmd), NoExclude)
}
