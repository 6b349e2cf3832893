package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// healthCheckTimeout bounds each component check in /health.
const healthCheckTimeout = 2 * time.Second

// SystemStats is the response of GET /system/stats.
type SystemStats struct {
	Timestamp     string       `json:"timestamp"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Runtime       RuntimeStats `json:"runtime"`
	Relay         RelayStats   `json:"relay"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RelayStats contains connection registry counts.
type RelayStats struct {
	Connections      int `json:"connections"`
	DevicesConnected int `json:"devices_connected"`
}

// handleSystemStats returns runtime and relay statistics as JSON. The same
// numbers are exported to Prometheus on the metrics endpoint.
func (s *Server) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	registry := s.hub.Registry()
	writeJSON(w, http.StatusOK, SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Relay: RelayStats{
			Connections:      registry.Count(),
			DevicesConnected: registry.DeviceCount(),
		},
	})
}

// handleHealth reports component health. The database is required: when it
// fails the response is 503. MQTT and InfluxDB are optional and only
// degrade the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	checkComponent := func(name string, c HealthChecker, required bool) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := c.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "unhealthy"
			if required {
				status = "unhealthy"
			} else if status == "ok" {
				status = "degraded"
			}
			return
		}
		components[name] = "ok"
	}

	checkComponent("database", s.database, true)
	checkComponent("mqtt", s.mqtt, false)
	checkComponent("influxdb", s.influx, false)

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
