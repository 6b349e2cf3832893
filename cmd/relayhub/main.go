// RelayHub - device relay and command hub
//
// This is the main entry point for RelayHub. It accepts persistent
// WebSocket connections from device agents and dashboards, forwards
// commands to agents, and fans status changes out to every connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/api"
	"github.com/nerrad567/relayhub/internal/auth"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/dashboard"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/config"
	"github.com/nerrad567/relayhub/internal/infrastructure/database"
	"github.com/nerrad567/relayhub/internal/infrastructure/influxdb"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayhub/internal/relay"
	"github.com/nerrad567/relayhub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting RelayHub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	devices := device.NewSQLiteRepository(db.DB)
	commands := command.NewSQLiteRepository(db.DB)
	activities := activity.NewSQLiteRepository(db.DB)
	users := auth.NewUserRepository(db.DB)

	// No connection survives a restart, so nothing can be online yet.
	reset, err := devices.MarkAllOffline(ctx)
	if err != nil {
		return fmt.Errorf("resetting device status: %w", err)
	}
	log.Info("device status reset", "devices", reset)

	if _, seedErr := auth.SeedAdmin(ctx, users, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin user: %w", seedErr)
	}

	deps := api.Deps{Database: db}
	opts := relay.Options{RequireDeviceToken: cfg.Relay.RequireDeviceToken}
	var mqttClient *mqtt.Client

	if cfg.MQTT.Enabled {
		var connErr error
		mqttClient, connErr = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		opts.Sink = mqttClient
		deps.MQTT = mqttClient
	} else {
		log.Info("MQTT event mirror disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		opts.Telemetry = influxClient
		deps.InfluxDB = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts.Registerer = registry

	tokens := auth.NewTokens(
		cfg.Security.JWT.Secret,
		cfg.Security.JWT.Issuer,
		cfg.GetAccessTokenTTL(),
		cfg.GetDeviceTokenTTL(),
	)
	opts.Tokens = tokens

	hub := relay.NewHub(devices, commands, activities, log, opts)
	defer func() {
		log.Info("closing relay connections")
		hub.Shutdown()
	}()

	if mqttClient != nil && cfg.MQTT.AcceptCommands {
		if serveErr := mqttClient.ServeCommands(mqttCommands(hub)); serveErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", serveErr)
		}
		log.Info("accepting commands over MQTT", "topic", mqttClient.Topics().CommandRequests())
	}

	deps.Config = cfg.API
	deps.WS = cfg.WebSocket
	deps.Relay = cfg.Relay
	deps.Metrics = cfg.Metrics
	deps.Logger = log
	deps.Hub = hub
	deps.Tokens = tokens
	deps.Version = version
	deps.Gatherer = registry
	deps.Devices = devices
	deps.Commands = commands
	deps.Activities = activities
	deps.Users = users

	if cfg.Dashboard.Dir != "" {
		handler, dashErr := dashboard.Handler(cfg.Dashboard.Dir)
		if dashErr != nil {
			return fmt.Errorf("loading dashboard: %w", dashErr)
		}
		deps.Dashboard = handler
		log.Info("serving dashboard", "dir", cfg.Dashboard.Dir)
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (stops new upgrades, flushes activity log)
	// 2. Relay connections
	// 3. InfluxDB and MQTT (if enabled)
	// 4. Database

	log.Info("RelayHub stopped")
	return nil
}

// mqttCommands routes commands published over MQTT through the hub.
func mqttCommands(hub *relay.Hub) mqtt.CommandFunc {
	return func(ctx context.Context, deviceID string, req mqtt.CommandRequest) (int64, bool, error) {
		cmd, delivered, err := hub.DispatchCommand(ctx, command.CreateRequest{
			DeviceID: deviceID,
			Command:  req.Command,
			Payload:  req.Payload,
		})
		if err != nil {
			return 0, false, err
		}
		return cmd.ID, delivered, nil
	}
}

// getConfigPath returns the configuration file path.
// Uses RELAYHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAYHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
