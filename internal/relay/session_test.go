package relay

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/auth"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
)

const testSecret = "relay-test-secret-at-least-32-bytes-long"

// ─── Round trip ─────────────────────────────────────────────────────

func TestSession_DeviceRoundTrip(t *testing.T) {
	ctx := context.Background()
	telemetry := &recordingTelemetry{}
	env := newTestEnv(t, Options{Telemetry: telemetry})
	env.createDevice(t, "dev-1", device.StatusOffline)

	_, dash := env.connectDashboard(t, 1)

	// 1. Device connects.
	dev, devT := env.connectDevice(t, "dev-1")
	if got := env.deviceStatus(t, "dev-1"); got != device.StatusOnline {
		t.Fatalf("status after AUTH = %s, want online", got)
	}
	online := dash.ofType(t, TypeDeviceStatusChanged)
	if len(online) != 1 || online[0]["status"] != "online" || online[0]["deviceId"] != "dev-1" {
		t.Fatalf("dashboard status frames = %v", online)
	}
	if len(devT.ofType(t, TypeDeviceStatusChanged)) != 0 {
		t.Error("connecting device received its own status broadcast")
	}
	if env.activityCount(t, "dev-1", activity.TypeDeviceConnected) != 1 {
		t.Error("device_connected activity not recorded")
	}

	// 2. A command is dispatched and delivered.
	cmd, delivered, err := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "reboot"})
	if err != nil {
		t.Fatalf("DispatchCommand() error = %v", err)
	}
	if !delivered {
		t.Fatal("DispatchCommand() delivered = false for a connected device")
	}
	cmds := devT.ofType(t, TypeCommand)
	if len(cmds) != 1 {
		t.Fatalf("device received %d COMMAND frames, want 1", len(cmds))
	}
	payload := cmds[0]["command"].(map[string]any)
	if payload["id"] != float64(cmd.ID) || payload["command"] != "reboot" || payload["status"] != "pending" {
		t.Errorf("COMMAND payload = %v", payload)
	}

	// 3. The device responds.
	dev.HandleMessage(ctx, frame(t, map[string]any{
		"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "completed", "result": "ok",
	}))
	stored, err := env.commands.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != command.StatusCompleted || stored.Result != "ok" || stored.CompletedAt == nil {
		t.Errorf("stored command = %+v", stored)
	}
	for name, ft := range map[string]*fakeTransport{"dashboard": dash, "device": devT} {
		changed := ft.ofType(t, TypeCommandStatusChanged)
		if len(changed) != 1 || changed[0]["status"] != "completed" || changed[0]["result"] != "ok" {
			t.Errorf("%s COMMAND_STATUS_CHANGED frames = %v", name, changed)
		}
	}
	if env.activityCount(t, "dev-1", activity.TypeCommandCompleted) != 1 {
		t.Error("command_completed activity not recorded")
	}

	// 4. The device disconnects.
	dash.reset()
	dev.Close(ctx, nil)
	if got := env.deviceStatus(t, "dev-1"); got != device.StatusOffline {
		t.Errorf("status after close = %s, want offline", got)
	}
	offline := dash.ofType(t, TypeDeviceStatusChanged)
	if len(offline) != 1 || offline[0]["status"] != "offline" {
		t.Errorf("dashboard status frames after close = %v", offline)
	}
	if env.activityCount(t, "dev-1", activity.TypeDeviceDisconnected) != 1 {
		t.Error("device_disconnected activity not recorded")
	}
	if dev.State() != StateClosed {
		t.Errorf("State() = %v, want closed", dev.State())
	}

	telemetry.mu.Lock()
	defer telemetry.mu.Unlock()
	if len(telemetry.statuses) != 2 || telemetry.statuses[0] != "dev-1:online" || telemetry.statuses[1] != "dev-1:offline" {
		t.Errorf("telemetry statuses = %v", telemetry.statuses)
	}
	if len(telemetry.results) != 1 || telemetry.results[0] != "dev-1:reboot:completed" {
		t.Errorf("telemetry results = %v", telemetry.results)
	}
}

func TestSession_FailedCommandRecordsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	dev, _ := env.connectDevice(t, "dev-1")

	cmd, _, err := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "update"})
	if err != nil {
		t.Fatalf("DispatchCommand() error = %v", err)
	}
	dev.HandleMessage(ctx, frame(t, map[string]any{
		"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "failed", "result": "disk full",
	}))

	if env.activityCount(t, "dev-1", activity.TypeCommandFailed) != 1 {
		t.Error("command_failed activity not recorded")
	}
}

// ─── Protocol preconditions ─────────────────────────────────────────

func TestSession_SecondAuthIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	env.createDevice(t, "dev-2", device.StatusOffline)

	s, _ := env.connectDevice(t, "dev-1")
	s.HandleMessage(ctx, frame(t, map[string]any{"type": "AUTH", "deviceId": "dev-2"}))

	if s.DeviceID() != "dev-1" {
		t.Errorf("DeviceID() = %s, want dev-1", s.DeviceID())
	}
	if env.deviceStatus(t, "dev-2") != device.StatusOffline {
		t.Error("second AUTH changed another device's status")
	}
	if got := env.counterValue(t, "relayhub_relay_messages_dropped_total", map[string]string{"reason": dropPrecondition}); got != 1 {
		t.Errorf("precondition drops = %v, want 1", got)
	}
}

func TestSession_UnboundMessagesAreDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	cmd, _, err := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "reboot"})
	if err != nil {
		t.Fatalf("DispatchCommand() error = %v", err)
	}

	s, ft := env.connect()
	s.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "completed"}))
	s.HandleMessage(ctx, frame(t, map[string]any{"type": "DEVICE_INFO", "info": map[string]any{"os": "linux"}}))

	stored, _ := env.commands.GetByID(ctx, cmd.ID)
	if stored.Status != command.StatusPending {
		t.Errorf("unbound COMMAND_RESPONSE resolved the command: %s", stored.Status)
	}
	d, _ := env.devices.GetByDeviceID(ctx, "dev-1")
	if _, ok := d.Info["os"]; ok {
		t.Error("unbound DEVICE_INFO merged info")
	}
	if len(ft.messages(t)) != 0 {
		t.Error("unbound connection received frames")
	}
	if s.State() != StateUnbound {
		t.Errorf("State() = %v, want unbound", s.State())
	}
}

func TestSession_DashboardCannotRespond(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	cmd, _, _ := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "reboot"})

	s, _ := env.connectDashboard(t, 1)
	s.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "completed"}))

	stored, _ := env.commands.GetByID(ctx, cmd.ID)
	if stored.Status != command.StatusPending {
		t.Errorf("dashboard resolved a command: %s", stored.Status)
	}
}

func TestSession_MalformedFramesKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, Options{})
	s, ft := env.connect()

	for _, raw := range []string{`garbage`, `{"type":"NOPE"}`, `{"type":"AUTH"}`} {
		s.HandleMessage(context.Background(), []byte(raw))
	}

	if !ft.IsOpen() {
		t.Error("malformed frame closed the connection")
	}
	if got := env.counterValue(t, "relayhub_relay_messages_dropped_total", map[string]string{"reason": dropMalformed}); got != 2 {
		t.Errorf("malformed drops = %v, want 2", got)
	}
	if got := env.counterValue(t, "relayhub_relay_messages_dropped_total", map[string]string{"reason": dropUnknownType}); got != 1 {
		t.Errorf("unknown type drops = %v, want 1", got)
	}
}

// ─── Command responses ──────────────────────────────────────────────

func TestSession_CommandResponseRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	env.createDevice(t, "dev-2", device.StatusOffline)

	dev1, _ := env.connectDevice(t, "dev-1")
	dev2, _ := env.connectDevice(t, "dev-2")
	_, dash := env.connectDashboard(t, 1)

	cmd, _, err := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "reboot"})
	if err != nil {
		t.Fatalf("DispatchCommand() error = %v", err)
	}

	t.Run("unknown command id", func(t *testing.T) {
		dev1.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": 9999, "status": "completed"}))
		if len(dash.ofType(t, TypeCommandStatusChanged)) != 0 {
			t.Error("unknown command produced a broadcast")
		}
	})

	t.Run("command for another device", func(t *testing.T) {
		dev2.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "completed"}))
		stored, _ := env.commands.GetByID(ctx, cmd.ID)
		if stored.Status != command.StatusPending {
			t.Errorf("another device resolved the command: %s", stored.Status)
		}
		if len(dash.ofType(t, TypeCommandStatusChanged)) != 0 {
			t.Error("foreign response produced a broadcast")
		}
	})

	t.Run("already terminal", func(t *testing.T) {
		dev1.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "completed", "result": "first"}))
		dev1.HandleMessage(ctx, frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": cmd.ID, "status": "failed", "result": "second"}))

		stored, _ := env.commands.GetByID(ctx, cmd.ID)
		if stored.Status != command.StatusCompleted || stored.Result != "first" {
			t.Errorf("stored = %s/%q, want completed/first", stored.Status, stored.Result)
		}
		if got := len(dash.ofType(t, TypeCommandStatusChanged)); got != 1 {
			t.Errorf("COMMAND_STATUS_CHANGED broadcasts = %d, want 1", got)
		}
	})

	if got := env.counterValue(t, "relayhub_relay_messages_dropped_total", map[string]string{"reason": dropNotFound}); got != 2 {
		t.Errorf("not_found drops = %v, want 2", got)
	}
}

// ─── Device info ────────────────────────────────────────────────────

func TestSession_DeviceInfoMerge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	dev, devT := env.connectDevice(t, "dev-1")
	_, dash := env.connectDashboard(t, 1)

	dev.HandleMessage(ctx, frame(t, map[string]any{"type": "DEVICE_INFO", "info": map[string]any{"os": "linux", "arch": "arm64"}}))
	dev.HandleMessage(ctx, frame(t, map[string]any{"type": "DEVICE_INFO", "info": map[string]any{"arch": nil, "version": "1.2"}}))

	d, err := env.devices.GetByDeviceID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByDeviceID() error = %v", err)
	}
	if d.Info["os"] != "linux" || d.Info["version"] != "1.2" {
		t.Errorf("Info = %v", d.Info)
	}
	if _, ok := d.Info["arch"]; ok {
		t.Errorf("null value did not remove key: %v", d.Info)
	}

	updates := dash.ofType(t, TypeDeviceInfoUpdated)
	if len(updates) != 2 {
		t.Fatalf("DEVICE_INFO_UPDATED broadcasts = %d, want 2", len(updates))
	}
	last := updates[1]["info"].(map[string]any)
	if last["os"] != "linux" || last["version"] != "1.2" {
		t.Errorf("broadcast carries %v, want the merged info", last)
	}
	// The sender is included.
	if len(devT.ofType(t, TypeDeviceInfoUpdated)) != 2 {
		t.Error("reporting device did not receive its info broadcast")
	}
}

// ─── Device tokens ──────────────────────────────────────────────────

func TestSession_DeviceTokens(t *testing.T) {
	tokens := auth.NewTokens(testSecret, "relayhub", 0, 0)
	good, err := tokens.IssueDeviceToken("dev-1")
	if err != nil {
		t.Fatalf("IssueDeviceToken() error = %v", err)
	}
	other, err := tokens.IssueDeviceToken("dev-2")
	if err != nil {
		t.Fatalf("IssueDeviceToken() error = %v", err)
	}

	tests := []struct {
		name      string
		opts      Options
		token     string
		wantBound bool
	}{
		{"no token, not required", Options{Tokens: tokens}, "", true},
		{"valid token", Options{Tokens: tokens}, good, true},
		{"valid token, required", Options{Tokens: tokens, RequireDeviceToken: true}, good, true},
		{"missing token, required", Options{Tokens: tokens, RequireDeviceToken: true}, "", false},
		{"token for another device", Options{Tokens: tokens}, other, false},
		{"garbage token", Options{Tokens: tokens}, "not-a-jwt", false},
		{"token without verifier", Options{}, good, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts)
			env.createDevice(t, "dev-1", device.StatusOffline)

			s, _ := env.connect()
			msg := map[string]any{"type": "AUTH", "deviceId": "dev-1"}
			if tt.token != "" {
				msg["token"] = tt.token
			}
			s.HandleMessage(context.Background(), frame(t, msg))

			bound := s.State() == StateDeviceBound
			if bound != tt.wantBound {
				t.Fatalf("bound = %v, want %v", bound, tt.wantBound)
			}
			wantStatus := device.StatusOffline
			if tt.wantBound {
				wantStatus = device.StatusOnline
			}
			if got := env.deviceStatus(t, "dev-1"); got != wantStatus {
				t.Errorf("status = %s, want %s", got, wantStatus)
			}
		})
	}
}

// ─── Dashboard users ────────────────────────────────────────────────

func TestSession_UserAuth(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := int64(7)

	t.Run("matches upgrade token", func(t *testing.T) {
		s := env.hub.Open(newFakeTransport(), SessionOptions{UserID: &id})
		s.HandleMessage(context.Background(), frame(t, map[string]any{"type": "AUTH", "userId": 7}))
		if s.State() != StateUserBound {
			t.Errorf("State() = %v, want user_bound", s.State())
		}
	})

	t.Run("mismatched user", func(t *testing.T) {
		s := env.hub.Open(newFakeTransport(), SessionOptions{UserID: &id})
		s.HandleMessage(context.Background(), frame(t, map[string]any{"type": "AUTH", "userId": 8}))
		if s.State() != StateUnbound {
			t.Errorf("State() = %v, want unbound", s.State())
		}
	})
}

// ─── Duplicate device connections ───────────────────────────────────

func TestSession_DuplicateDeviceClosesPrevious(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	_, dash := env.connectDashboard(t, 1)

	first, firstT := env.connectDevice(t, "dev-1")
	second, secondT := env.connectDevice(t, "dev-1")

	if firstT.IsOpen() {
		t.Error("superseded connection left open")
	}
	if h, _, _ := env.hub.Registry().FindByDevice("dev-1"); h != second.Handle() {
		t.Errorf("addressable handle = %d, want newest %d", h, second.Handle())
	}

	// The superseded connection's cleanup must not mark the device offline.
	first.Close(ctx, nil)
	if got := env.deviceStatus(t, "dev-1"); got != device.StatusOnline {
		t.Errorf("status after superseded close = %s, want online", got)
	}
	for _, m := range dash.ofType(t, TypeDeviceStatusChanged) {
		if m["status"] == "offline" {
			t.Error("superseded close broadcast offline")
		}
	}

	// Commands reach the new connection.
	_, delivered, err := env.hub.DispatchCommand(ctx, command.CreateRequest{DeviceID: "dev-1", Command: "ping"})
	if err != nil || !delivered {
		t.Fatalf("DispatchCommand() = %v, %v; want delivered", delivered, err)
	}
	if len(secondT.ofType(t, TypeCommand)) != 1 {
		t.Error("new connection did not receive the command")
	}
}

func TestSession_DeviceNotInStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	_, dash := env.connectDashboard(t, 1)

	s, _ := env.connectDevice(t, "ghost")
	s.Close(ctx, nil)

	if len(dash.ofType(t, TypeDeviceStatusChanged)) != 0 {
		t.Error("unknown device produced status broadcasts")
	}
	if env.activityCount(t, "ghost", "") != 0 {
		t.Error("unknown device produced activities")
	}
}

// ─── Close and panics ───────────────────────────────────────────────

func TestSession_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	_, dash := env.connectDashboard(t, 1)
	s, _ := env.connectDevice(t, "dev-1")

	s.Close(ctx, nil)
	s.Close(ctx, nil)

	if got := len(dash.ofType(t, TypeDeviceStatusChanged)); got != 2 {
		t.Errorf("status broadcasts = %d, want online and offline only", got)
	}
	if env.activityCount(t, "dev-1", activity.TypeDeviceDisconnected) != 1 {
		t.Error("disconnect recorded more than once")
	}
	if env.hub.Registry().Count() != 1 {
		t.Errorf("Count() = %d, want only the dashboard", env.hub.Registry().Count())
	}

	// Frames after close are ignored.
	s.HandleMessage(ctx, frame(t, map[string]any{"type": "DEVICE_INFO", "info": map[string]any{}}))
}

func TestSession_CloseWithCancelledContext(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	s, _ := env.connectDevice(t, "dev-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Close(ctx, nil)

	if got := env.deviceStatus(t, "dev-1"); got != device.StatusOffline {
		t.Errorf("status = %s, want offline even when the request context is gone", got)
	}
}

// panickingCommands fails every resolution with a panic.
type panickingCommands struct {
	*command.SQLiteRepository
}

func (panickingCommands) Complete(context.Context, int64, string, command.Status, string) (*command.Command, error) {
	panic("store exploded")
}

func TestSession_PanicClosesOnlyThatConnection(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)

	reg := prometheus.NewRegistry()
	hub := NewHub(env.devices, panickingCommands{env.commands}, env.activities, logging.Nop(), Options{Registerer: reg})
	t.Cleanup(hub.Shutdown)

	devT, otherT := newFakeTransport(), newFakeTransport()
	dev := hub.Open(devT, SessionOptions{})
	hub.Open(otherT, SessionOptions{})

	dev.HandleMessage(context.Background(), frame(t, map[string]any{"type": "AUTH", "deviceId": "dev-1"}))
	dev.HandleMessage(context.Background(), frame(t, map[string]any{"type": "COMMAND_RESPONSE", "commandId": 1, "status": "completed"}))

	if devT.IsOpen() {
		t.Error("panicking connection left open")
	}
	if !otherT.IsOpen() {
		t.Error("panic closed an unrelated connection")
	}
	if got := metricValue(t, reg, "relayhub_relay_handler_panics_total", nil); got != 1 {
		t.Errorf("handler panics = %v, want 1", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnbound, "unbound"},
		{StateDeviceBound, "device_bound"},
		{StateUserBound, "user_bound"},
		{StateClosed, "closed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
