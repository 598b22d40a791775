package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/database"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/simulator"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IDOTMATRIX_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config loading error", err)
	}
}

// TestRun_RejectsUnknownBLEDriver verifies config validation runs before anything starts.
func TestRun_RejectsUnknownBLEDriver(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: "` + filepath.Join(dir, "bridge.db") + `"
ble:
  driver: carrier-pigeon
logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("IDOTMATRIX_CONFIG", configPath)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ble.driver") {
		t.Fatalf("run() error = %v, want a ble.driver validation error", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "bridge.db")); !os.IsNotExist(statErr) {
		t.Error("database created despite invalid configuration")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("IDOTMATRIX_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("IDOTMATRIX_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestOpenRegistry_StaticDisplays(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg := config.Default()
	cfg.Displays.ScanInterval = 45
	cfg.Displays.Static = []config.StaticDisplay{
		{Name: "Kitchen", MACAddress: "AA:BB:CC:DD:EE:01"},
		{MACAddress: "aa-bb-cc-dd-ee-02"},
	}

	registry, err := openRegistry(ctx, cfg, db, testLogger())
	if err != nil {
		t.Fatalf("openRegistry() error = %v", err)
	}

	// A second start sees the same static displays already stored.
	cfg.Displays.Static = append(cfg.Displays.Static, config.StaticDisplay{MACAddress: "aa:bb:cc:dd:ee:01"})
	registry, err = openRegistry(ctx, cfg, db, testLogger())
	if err != nil {
		t.Fatalf("second openRegistry() error = %v", err)
	}

	displays, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(displays) != 2 {
		t.Fatalf("displays = %d, want 2", len(displays))
	}
	for _, d := range displays {
		if d.Source != display.SourceConfig {
			t.Errorf("%s source = %q, want config", d.MACAddress, d.Source)
		}
		if d.ScanInterval != 45 {
			t.Errorf("%s scan_interval = %d, want configured default 45", d.MACAddress, d.ScanInterval)
		}
	}
	if displays[0].Name != "Kitchen" || displays[1].Name != "iDotMatrix 02" {
		t.Errorf("names = %q, %q", displays[0].Name, displays[1].Name)
	}
}

func TestOpenRegistry_InvalidStaticMAC(t *testing.T) {
	cfg := config.Default()
	cfg.Displays.Static = []config.StaticDisplay{{MACAddress: "not-a-mac"}}

	if _, err := openRegistry(context.Background(), cfg, openTestDB(t), testLogger()); err == nil {
		t.Fatal("openRegistry() error = nil, want invalid MAC error")
	}
}

func TestLoadSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Displays.Static = []config.StaticDisplay{
		{MACAddress: "AA:BB:CC:DD:EE:01"},
		{MACAddress: "AA:BB:CC:DD:EE:02"},
	}
	registry, err := openRegistry(ctx, cfg, openTestDB(t), testLogger())
	if err != nil {
		t.Fatalf("openRegistry() error = %v", err)
	}

	sessions := session.NewManager(transport.NewDriver(simulator.New()), session.WithStateStore(registry))
	if err := loadSessions(ctx, registry, sessions); err != nil {
		t.Fatalf("loadSessions() error = %v", err)
	}
	if sessions.Count() != 2 {
		t.Errorf("sessions = %d, want 2", sessions.Count())
	}

	if err := loadSessions(ctx, registry, sessions); err == nil {
		t.Error("loading the same displays twice should fail")
	}
}

// poweredSimulator adds the adapter probe the bluez backend offers.
type poweredSimulator struct {
	*simulator.Simulator
}

func (poweredSimulator) EnsurePowered(context.Context) error { return nil }

func TestStartBluetoothd(t *testing.T) {
	cfg := config.Default().BLE.Daemon
	cfg.Binary, cfg.Args = "sleep", []string{"60"}

	if _, err := startBluetoothd(context.Background(), cfg, simulator.New(), testLogger()); err == nil ||
		!strings.Contains(err.Error(), "requires the bluez driver") {
		t.Fatalf("startBluetoothd(simulator) error = %v, want driver error", err)
	}

	backend := poweredSimulator{simulator.New()}
	sup, err := startBluetoothd(context.Background(), cfg, backend, testLogger())
	if err != nil {
		t.Fatalf("startBluetoothd() error = %v", err)
	}
	defer sup.Stop()

	if st := sup.Stats(); st.Name != "bluetoothd" || st.PID == 0 {
		t.Errorf("stats = %+v, want a running bluetoothd", st)
	}
}
