// Package api implements the HTTP REST API and the relay WebSocket endpoint.
//
// This package provides:
//   - REST endpoints for devices, commands, activities and users
//   - Device enrolment with single-use registration codes
//   - JWT authentication with role-based permissions
//   - Ticket-based WebSocket auth for dashboards
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The relay itself lives in package relay. This package authenticates the
// upgrade, then hands the connection to the Hub, which owns it until it
// closes. Commands created over HTTP go through the same Hub, so a command
// reaches a connected agent the moment it is stored.
//
// # Security
//
// Dashboards log in with a username and password and receive an access
// token. WebSocket connections use single-use tickets to keep tokens out of
// URLs; a token in the query string is also accepted for non-browser
// clients. Agents authenticate in-band with a device token issued at
// enrolment.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. When either is down /health reports
// "degraded" and the relay keeps running.
package api
