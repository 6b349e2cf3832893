// Package api provides the HTTP REST API and the relay WebSocket endpoint
// for RelayHub.
//
// It exposes device, command and activity operations to dashboards,
// device enrolment to agents, and the relay endpoint both use.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/auth"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/config"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Relay    config.RelayConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Hub      *relay.Hub
	Tokens   *auth.Tokens
	Version  string
	Gatherer prometheus.Gatherer // serves /metrics when set

	// Dashboard serves the web UI at the root when set.
	Dashboard http.Handler

	Devices    device.Repository
	Commands   command.Repository
	Activities activity.Repository
	Users      auth.UserRepository

	// Optional components reported by /health. A nil checker is skipped.
	Database HealthChecker
	MQTT     HealthChecker
	InfluxDB HealthChecker
}

// Server is the HTTP API server for RelayHub.
//
// It manages the HTTP listener, routes and middleware. The relay itself is
// owned by the Hub; the server only upgrades connections and hands them over.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	relayCfg   config.RelayConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	hub        *relay.Hub
	tokens     *auth.Tokens
	version    string
	gatherer   prometheus.Gatherer
	dashboard  http.Handler
	startTime  time.Time

	devices    device.Repository
	commands   command.Repository
	activities activity.Repository
	users      auth.UserRepository

	database HealthChecker
	mqtt     HealthChecker
	influx   HealthChecker

	tickets    *ticketStore
	activityCh chan *activity.Activity
	activityWG chan struct{}

	server *http.Server
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, hub, tokens, repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Hub == nil:
		return nil, fmt.Errorf("relay hub is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token issuer is required")
	case deps.Devices == nil || deps.Commands == nil || deps.Activities == nil || deps.Users == nil:
		return nil, fmt.Errorf("device, command, activity and user repositories are required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		relayCfg:   deps.Relay,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		hub:        deps.Hub,
		tokens:     deps.Tokens,
		version:    deps.Version,
		gatherer:   deps.Gatherer,
		dashboard:  deps.Dashboard,
		startTime:  time.Now(),
		devices:    deps.Devices,
		commands:   deps.Commands,
		activities: deps.Activities,
		users:      deps.Users,
		database:   deps.Database,
		mqtt:       deps.MQTT,
		influx:     deps.InfluxDB,
		tickets:    newTicketStore(),
		activityCh: make(chan *activity.Activity, activityChanSize),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the activity writer and ticket cleanup, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.activityWG = make(chan struct{})
	go func() {
		defer close(s.activityWG)
		s.drainActivities(srvCtx)
	}()
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued activity records. Relay connections are hijacked and are
// not covered by this; the Hub closes them.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Cancel background goroutines (activity writer, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}
	if s.activityWG != nil {
		<-s.activityWG
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
