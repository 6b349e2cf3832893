package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/database"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/migrations"
)

// ─── Fake transport ─────────────────────────────────────────────────

// fakeTransport records every frame it accepts.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{} }

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	if f.failSend {
		return ErrSendBufferFull
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) setFailSend(fail bool) {
	f.mu.Lock()
	f.failSend = fail
	f.mu.Unlock()
}

// messages decodes every recorded frame.
func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.frames))
	for _, frame := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("frame is not JSON: %s", frame)
		}
		out = append(out, m)
	}
	return out
}

// ofType returns the recorded frames with the given type.
func (f *fakeTransport) ofType(t *testing.T, mt MessageType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == string(mt) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// ─── Fake sink and telemetry ────────────────────────────────────────

type recordingSink struct {
	mu     sync.Mutex
	events []string
	got    chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan string, 64)}
}

func (s *recordingSink) PublishEvent(eventType string, _ []byte) error {
	s.mu.Lock()
	s.events = append(s.events, eventType)
	s.mu.Unlock()
	s.got <- eventType
	return nil
}

type recordingTelemetry struct {
	mu       sync.Mutex
	statuses []string
	results  []string
}

func (r *recordingTelemetry) DeviceStatus(deviceID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	r.statuses = append(r.statuses, deviceID+":"+state)
}

func (r *recordingTelemetry) CommandResult(deviceID, cmd, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, deviceID+":"+cmd+":"+status)
}

// ─── Test environment ───────────────────────────────────────────────

type testEnv struct {
	hub        *Hub
	devices    *device.SQLiteRepository
	commands   *command.SQLiteRepository
	activities *activity.SQLiteRepository
	registry   *prometheus.Registry
}

// newTestEnv builds a hub over a migrated in-memory database.
func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	env := &testEnv{
		devices:    device.NewSQLiteRepository(db.DB),
		commands:   command.NewSQLiteRepository(db.DB),
		activities: activity.NewSQLiteRepository(db.DB),
		registry:   prometheus.NewRegistry(),
	}
	if opts.Registerer == nil {
		opts.Registerer = env.registry
	}
	env.hub = NewHub(env.devices, env.commands, env.activities, logging.Nop(), opts)
	t.Cleanup(env.hub.Shutdown)
	return env
}

func (e *testEnv) createDevice(t *testing.T, deviceID string, status device.Status) {
	t.Helper()
	d := &device.Device{DeviceID: deviceID, Name: "Device " + deviceID, Status: status}
	if err := e.devices.Create(context.Background(), d); err != nil {
		t.Fatalf("Create(%s) error = %v", deviceID, err)
	}
}

func (e *testEnv) deviceStatus(t *testing.T, deviceID string) device.Status {
	t.Helper()
	d, err := e.devices.GetByDeviceID(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("GetByDeviceID(%s) error = %v", deviceID, err)
	}
	return d.Status
}

func (e *testEnv) activityCount(t *testing.T, deviceID, activityType string) int {
	t.Helper()
	res, err := e.activities.List(context.Background(), activity.Filter{DeviceID: deviceID, ActivityType: activityType})
	if err != nil {
		t.Fatalf("List activities error = %v", err)
	}
	return res.Total
}

// connect opens a session over a fake transport.
func (e *testEnv) connect() (*Session, *fakeTransport) {
	ft := newFakeTransport()
	return e.hub.Open(ft, SessionOptions{}), ft
}

// connectDevice opens a session and authenticates it as deviceID.
func (e *testEnv) connectDevice(t *testing.T, deviceID string) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := e.connect()
	s.HandleMessage(context.Background(), frame(t, map[string]any{"type": "AUTH", "deviceId": deviceID}))
	if s.State() != StateDeviceBound {
		t.Fatalf("session state = %v after device AUTH, want device_bound", s.State())
	}
	return s, ft
}

// connectDashboard opens a session and authenticates it as a user.
func (e *testEnv) connectDashboard(t *testing.T, userID int64) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := e.connect()
	s.HandleMessage(context.Background(), frame(t, map[string]any{"type": "AUTH", "userId": userID}))
	if s.State() != StateUserBound {
		t.Fatalf("session state = %v after user AUTH, want user_bound", s.State())
	}
	return s, ft
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

// counterValue reads one sample from the env's registry.
func (e *testEnv) counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	return metricValue(t, e.registry, name, labels)
}

// metricValue returns the first counter or gauge sample named name whose
// labels include labels, or 0.
func metricValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}
