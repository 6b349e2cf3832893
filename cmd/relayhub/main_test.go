package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
	"github.com/nerrad567/relayhub/internal/infrastructure/database"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayhub/internal/relay"
	"github.com/nerrad567/relayhub/migrations"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("RELAYHUB_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecret verifies validation runs before anything is opened.
func TestRun_MissingSecret(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relayhub.db")
	t.Setenv("RELAYHUB_CONFIG", writeConfig(t, `
database:
  path: "`+dbPath+`"
`))
	t.Setenv("RELAYHUB_JWT_SECRET", "")

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Errorf("database created despite invalid config (stat err = %v)", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("RELAYHUB_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("RELAYHUB_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_StartupAndShutdown starts the full stack without MQTT or
// InfluxDB, waits for /health, then cancels.
func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	t.Setenv("RELAYHUB_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  path: "%s"
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
`, filepath.Join(dir, "relayhub.db"), port)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	healthy := false
	for time.Now().Before(deadline) && !healthy {
		resp, err := http.Get(url) //nolint:gosec,noctx // test URL
		if err == nil {
			healthy = resp.StatusCode == http.StatusOK
			resp.Body.Close()
		}
		if !healthy {
			time.Sleep(20 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if !healthy {
		t.Fatal("server never reported healthy")
	}
}

// TestMQTTCommands verifies commands arriving over MQTT are stored and
// routed through the hub.
func TestMQTTCommands(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	devices := device.NewSQLiteRepository(db.DB)
	commands := command.NewSQLiteRepository(db.DB)
	if err := devices.Create(ctx, &device.Device{DeviceID: "dev-1", Name: "Device 1"}); err != nil {
		t.Fatalf("Create device: %v", err)
	}

	hub := relay.NewHub(devices, commands, activity.NewSQLiteRepository(db.DB), logging.Nop(), relay.Options{})
	t.Cleanup(hub.Shutdown)
	fn := mqttCommands(hub)

	id, delivered, err := fn(ctx, "dev-1", mqtt.CommandRequest{Command: "reboot", Payload: []byte(`{"delay":1}`)})
	if err != nil {
		t.Fatalf("fn() error: %v", err)
	}
	if delivered {
		t.Error("delivered = true with no agent connected")
	}
	stored, err := commands.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID(%d) error: %v", id, err)
	}
	if stored.Command != "reboot" || stored.Status != command.StatusPending {
		t.Errorf("stored = %+v", stored)
	}

	if _, _, err := fn(ctx, "ghost", mqtt.CommandRequest{Command: "reboot"}); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
}
