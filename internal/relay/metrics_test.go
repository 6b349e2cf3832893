package relay

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/relayhub/internal/device"
)

func TestMetrics_ConnectionGauges(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)

	env.connectDashboard(t, 1)
	env.connectDevice(t, "dev-1")

	if got := env.counterValue(t, "relayhub_relay_connections", nil); got != 2 {
		t.Errorf("connections = %v, want 2", got)
	}
	if got := env.counterValue(t, "relayhub_relay_devices_connected", nil); got != 1 {
		t.Errorf("devices_connected = %v, want 1", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createDevice(t, "dev-1", device.StatusOffline)
	env.connectDashboard(t, 1)
	s, _ := env.connectDevice(t, "dev-1")
	s.Close(context.Background(), nil)

	if got := env.counterValue(t, "relayhub_relay_messages_received_total", map[string]string{"type": "AUTH"}); got != 2 {
		t.Errorf("AUTH received = %v, want 2", got)
	}
	if got := env.counterValue(t, "relayhub_relay_device_status_transitions_total", map[string]string{"status": "online"}); got != 1 {
		t.Errorf("online transitions = %v, want 1", got)
	}
	if got := env.counterValue(t, "relayhub_relay_device_status_transitions_total", map[string]string{"status": "offline"}); got != 1 {
		t.Errorf("offline transitions = %v, want 1", got)
	}
	if got := env.counterValue(t, "relayhub_relay_broadcasts_total", nil); got != 2 {
		t.Errorf("broadcasts = %v, want 2", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.received(TypeAuth)
	m.dropped(dropMalformed)
	m.broadcast(3)
	m.sendFailed("route")
	m.dispatched(true)
	m.transition("online")
	m.panicked()
}

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg, NewRegistry())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	// Vec collectors only appear once observed; the gauges and plain
	// counters are always present.
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"relayhub_relay_connections",
		"relayhub_relay_devices_connected",
		"relayhub_relay_broadcasts_total",
		"relayhub_relay_handler_panics_total",
	} {
		if !names[want] {
			t.Errorf("collector %s not registered", want)
		}
	}
}
