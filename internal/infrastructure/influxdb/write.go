package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the relay.
const (
	MeasurementDeviceStatus  = "device_status"
	MeasurementCommandResult = "command_result"
)

// DeviceStatus records a device status transition.
//
// The point carries a device_id tag and an integer online field (1 or 0),
// so uptime can be derived with a simple mean over a window.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) DeviceStatus(deviceID string, online bool) {
	var value int64
	if online {
		value = 1
	}
	c.WritePoint(MeasurementDeviceStatus,
		map[string]string{"device_id": deviceID},
		map[string]any{"online": value},
	)
}

// CommandResult records the outcome of a resolved command. latency is
// the time from creation to resolution and is omitted when not positive.
func (c *Client) CommandResult(deviceID, command, status string, latency time.Duration) {
	fields := map[string]any{"count": int64(1)}
	if latency > 0 {
		fields["latency_ms"] = latency.Milliseconds()
	}
	c.WritePoint(MeasurementCommandResult,
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"status":    status,
		},
		fields,
	)
}

// WritePoint queues a point stamped with the current time. Tags should
// stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writer.WritePoint(point)
}
