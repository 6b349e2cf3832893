package relay

import (
	"context"
	"fmt"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/command"
)

// DispatchCommand creates a command for an existing device and tries to
// deliver it. A failed delivery marks the device offline (once, and only
// if it was online); the command stays pending either way, because only a
// COMMAND_RESPONSE from the device resolves it.
//
// delivered=false does not always mean the device is offline: when the
// device's connection is still open but its send buffer is full, the
// frame is dropped and the device stays online.
//
// Returns device.ErrDeviceNotFound for an unknown device and
// command.ErrInvalidCommand for an invalid request.
func (h *Hub) DispatchCommand(ctx context.Context, req command.CreateRequest) (*command.Command, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	if _, err := h.devices.GetByDeviceID(ctx, req.DeviceID); err != nil {
		return nil, false, err
	}

	cmd, err := h.commands.Create(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("creating command: %w", err)
	}

	h.record(ctx, &activity.Activity{
		DeviceID:     cmd.DeviceID,
		ActivityType: activity.TypeCommandCreated,
		Description:  fmt.Sprintf("Command %q created", cmd.Command),
		Status:       string(cmd.Status),
		Details:      map[string]any{"command_id": cmd.ID},
	})

	delivered := h.router.SendToDevice(cmd.DeviceID, NewCommandMessage(cmd))
	h.metrics.dispatched(delivered)
	if !delivered {
		h.logger.Info("command not delivered, device unreachable", "device_id", cmd.DeviceID, "command_id", cmd.ID)
		h.markOffline(ctx, cmd.DeviceID, activity.TypeDeviceUnreachable, "Device unreachable")
	}

	return cmd, delivered, nil
}

// RemoveDevice deletes a device, closes its live connection, records the
// removal and broadcasts DEVICE_REMOVED. Command and activity history is
// kept.
//
// Returns device.ErrDeviceNotFound if the device does not exist.
func (h *Hub) RemoveDevice(ctx context.Context, deviceID string) error {
	unlock := h.locks.lock(deviceID)
	err := h.devices.Delete(ctx, deviceID)
	unlock()
	if err != nil {
		return err
	}

	if _, t, ok := h.registry.FindByDevice(deviceID); ok {
		t.Close()
	}

	h.record(ctx, &activity.Activity{
		DeviceID:     deviceID,
		ActivityType: activity.TypeDeviceRemoved,
		Description:  "Device removed",
	})
	h.broadcaster.Broadcast(NewDeviceRemoved(deviceID), NoExclude)
	return nil
}
