package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
)

// DeviceStore is the device persistence the relay needs.
// Implemented by device.SQLiteRepository.
type DeviceStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Device, error)
	SetStatusIf(ctx context.Context, deviceID string, from, to device.Status) (bool, error)
	MergeInfo(ctx context.Context, deviceID string, info device.Info) (device.Info, error)
	Delete(ctx context.Context, deviceID string) error
}

// CommandStore is the command persistence the relay needs.
// Implemented by command.SQLiteRepository.
type CommandStore interface {
	Create(ctx context.Context, req command.CreateRequest) (*command.Command, error)
	Complete(ctx context.Context, id int64, deviceID string, status command.Status, result string) (*command.Command, error)
}

// ActivityStore appends activity records.
// Implemented by activity.SQLiteRepository.
type ActivityStore interface {
	Create(ctx context.Context, a *activity.Activity) error
}

// DeviceTokenVerifier checks the token a device presents in AUTH.
// Implemented by auth.Tokens.
type DeviceTokenVerifier interface {
	VerifyDevice(token, deviceID string) error
}

// Telemetry records relay events as time series.
// Implemented by influxdb.Client.
type Telemetry interface {
	DeviceStatus(deviceID string, online bool)
	CommandResult(deviceID, command, status string, latency time.Duration)
}

// Options configures optional Hub collaborators. The zero value runs a
// hub without token checks, mirror, telemetry or metrics.
type Options struct {
	// RequireDeviceToken rejects device AUTH without a token.
	RequireDeviceToken bool

	// Tokens verifies device tokens. A device AUTH carrying a token is
	// rejected when Tokens is nil.
	Tokens DeviceTokenVerifier

	// Sink mirrors every broadcast; SinkBuffer bounds its queue.
	Sink       EventSink
	SinkBuffer int

	Telemetry Telemetry

	// Registerer receives the relay's Prometheus collectors.
	Registerer prometheus.Registerer
}

// cleanupTimeout bounds the store work done when a connection closes.
const cleanupTimeout = 5 * time.Second

// Hub owns the registry, router and broadcaster and applies the relay's
// state rules against the stores.
type Hub struct {
	registry    *Registry
	router      *Router
	broadcaster *Broadcaster
	locks       *deviceLocks
	mirror      *eventMirror

	devices    DeviceStore
	commands   CommandStore
	activities ActivityStore

	opts    Options
	metrics *Metrics
	logger  *logging.Logger
	now     func() time.Time

	// serveMu orders ServeWebSocket registrations against Shutdown;
	// sessions counts connections whose close cleanup has not finished.
	serveMu  sync.Mutex
	stopping bool
	sessions sync.WaitGroup
}

// NewHub creates a hub over the given stores.
func NewHub(devices DeviceStore, commands CommandStore, activities ActivityStore, logger *logging.Logger, opts Options) *Hub {
	registry := NewRegistry()

	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = NewMetrics(opts.Registerer, registry)
	}

	var mirror *eventMirror
	if opts.Sink != nil {
		mirror = newEventMirror(opts.Sink, opts.SinkBuffer, logger)
	}

	return &Hub{
		registry:    registry,
		router:      newRouter(registry, logger, metrics),
		broadcaster: newBroadcaster(registry, logger, metrics, mirror),
		locks:       newDeviceLocks(),
		mirror:      mirror,
		devices:     devices,
		commands:    commands,
		activities:  activities,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Router returns the point-to-point router.
func (h *Hub) Router() *Router { return h.router }

// Broadcaster returns the fan-out broadcaster.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// ServeWebSocket runs one relay connection over an upgraded WebSocket and
// returns when it has closed and been cleaned up. Connections arriving
// after Shutdown are closed straight away.
func (h *Hub) ServeWebSocket(ctx context.Context, conn *websocket.Conn, cfg TransportConfig, opts SessionOptions) {
	h.serveMu.Lock()
	if h.stopping {
		h.serveMu.Unlock()
		conn.Close() //nolint:errcheck,gosec // refusing the connection
		return
	}
	h.sessions.Add(1)
	t := NewWSTransport(conn, cfg)
	s := h.Open(t, opts)
	h.serveMu.Unlock()
	defer h.sessions.Done()

	err := t.Run(func(data []byte) {
		s.HandleMessage(ctx, data)
	})
	s.Close(ctx, err)
}

// Shutdown closes every connection, waits up to cleanupTimeout for their
// close cleanup (offline transition, activity, broadcast) and then flushes
// the event mirror. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.serveMu.Lock()
	h.stopping = true
	h.serveMu.Unlock()

	for _, peer := range h.registry.All() {
		peer.Transport.Close()
	}

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cleanupTimeout):
		h.logger.Warn("relay shutdown: connection cleanup still running, continuing", "timeout", cleanupTimeout)
	}

	h.mirror.stop()
}

// markOnline unconditionally records deviceID as online. It reports false
// when the device is not in the store.
func (h *Hub) markOnline(ctx context.Context, deviceID string, self Handle) bool {
	unlock := h.locks.lock(deviceID)
	defer unlock()

	changed, err := h.devices.SetStatusIf(ctx, deviceID, "", device.StatusOnline)
	if err != nil {
		h.logger.Error("failed to mark device online", "device_id", deviceID, "error", err)
		return false
	}
	if !changed {
		return false
	}

	h.metrics.transition(string(device.StatusOnline))
	h.telemetryStatus(deviceID, true)
	h.record(ctx, &activity.Activity{
		DeviceID:     deviceID,
		ActivityType: activity.TypeDeviceConnected,
		Description:  "Device connected",
		Status:       string(device.StatusOnline),
	})
	h.broadcaster.Broadcast(NewDeviceStatusChanged(deviceID, device.StatusOnline), self)
	return true
}

// markOffline moves deviceID from online to offline unless another open
// connection is addressable for it. The compare-and-set guarantees that
// racing callers (a close and a failed send) produce one transition, one
// activity and one broadcast.
func (h *Hub) markOffline(ctx context.Context, deviceID, activityType, description string) bool {
	unlock := h.locks.lock(deviceID)
	defer unlock()

	if _, t, ok := h.registry.FindByDevice(deviceID); ok && t.IsOpen() {
		h.logger.Debug("device still connected, keeping online", "device_id", deviceID)
		return false
	}

	changed, err := h.devices.SetStatusIf(ctx, deviceID, device.StatusOnline, device.StatusOffline)
	if err != nil {
		h.logger.Error("failed to mark device offline", "device_id", deviceID, "error", err)
		return false
	}
	if !changed {
		return false
	}

	h.metrics.transition(string(device.StatusOffline))
	h.telemetryStatus(deviceID, false)
	h.record(ctx, &activity.Activity{
		DeviceID:     deviceID,
		ActivityType: activityType,
		Description:  description,
		Status:       string(device.StatusOffline),
	})
	h.broadcaster.Broadcast(NewDeviceStatusChanged(deviceID, device.StatusOffline), NoExclude)
	return true
}

// record appends an activity. Failures are logged; they never undo the
// state change being described.
func (h *Hub) record(ctx context.Context, a *activity.Activity) {
	if err := h.activities.Create(ctx, a); err != nil {
		h.logger.Error("failed to record activity", "type", a.ActivityType, "device_id", a.DeviceID, "error", err)
	}
}

func (h *Hub) telemetryStatus(deviceID string, online bool) {
	if h.opts.Telemetry != nil {
		h.opts.Telemetry.DeviceStatus(deviceID, online)
	}
}

// cleanupContext detaches ctx from cancellation so close-time cleanup
// still reaches the store during shutdown.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}
