package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the influxdb section is off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the reason the startup ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is reported by HealthCheck once Close has run.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps errors from the background batch writer.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
