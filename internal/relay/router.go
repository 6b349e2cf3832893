package relay

import (
	"encoding/json"

	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
)

// Router delivers point-to-point messages to device connections.
type Router struct {
	registry *Registry
	logger   *logging.Logger
	metrics  *Metrics
}

// newRouter creates a router over registry.
func newRouter(registry *Registry, logger *logging.Logger, metrics *Metrics) *Router {
	return &Router{registry: registry, logger: logger, metrics: metrics}
}

// SendToDevice hands msg to the connection bound to deviceID. It reports
// true only when that connection accepted the frame; there is no retry and
// no queueing beyond the connection's own buffer.
func (r *Router) SendToDevice(deviceID string, msg Outbound) bool {
	_, t, ok := r.registry.FindByDevice(deviceID)
	if !ok || !t.IsOpen() {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal message", "type", msg.MessageType(), "error", err)
		return false
	}

	if err := t.Send(data); err != nil {
		r.metrics.sendFailed("route")
		r.logger.Warn("send to device failed", "device_id", deviceID, "type", msg.MessageType(), "error", err)
		return false
	}
	return true
}
