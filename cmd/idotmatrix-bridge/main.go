// iDotMatrix Bridge
//
// This is the main entry point of the iDotMatrix bridge daemon. It keeps a
// BLE session to every configured iDotMatrix LED panel and exposes them over
// MQTT (with Home Assistant discovery) and a REST/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/idotmatrix-bridge/migrations"

	"github.com/nerrad567/idotmatrix-bridge/internal/api"
	"github.com/nerrad567/idotmatrix-bridge/internal/audit"
	"github.com/nerrad567/idotmatrix-bridge/internal/bridges/idotmatrix"
	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/database"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/mdns"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/idotmatrix-bridge/internal/process"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/adapters"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when IDOTMATRIX_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// sessionStopTimeout bounds disconnecting every panel on shutdown.
	sessionStopTimeout = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting iDotMatrix bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"ble_driver", cfg.BLE.Driver,
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
	if migrateErr := db.Migrate(ctx, log); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry, err := openRegistry(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	backend, err := adapters.New(cfg.BLE, log)
	if err != nil {
		return fmt.Errorf("selecting BLE driver: %w", err)
	}

	var daemon api.DaemonSource
	if cfg.BLE.Daemon.Enabled {
		sup, supErr := startBluetoothd(ctx, cfg.BLE.Daemon, backend, log)
		if supErr != nil {
			return supErr
		}
		defer func() {
			log.Info("stopping bluetoothd")
			sup.Stop()
		}()
		daemon = sup
	}

	opts := []session.Option{
		session.WithLogger(log.With("component", "session")),
		session.WithStateStore(registry),
		session.WithTimeSyncOnConnect(cfg.Displays.SyncTimeOnConnect),
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		opts = append(opts, session.WithObserver(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	sessions := session.NewManager(transport.NewDriver(backend), opts...)
	if err := loadSessions(ctx, registry, sessions); err != nil {
		return err
	}
	log.Info("display sessions created", "displays", sessions.Count())

	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		auditRepo = audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(audit.RecorderConfig{
			Repository: auditRepo,
			BufferSize: cfg.Audit.BufferSize,
			Retention:  time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour,
			Logger:     log.With("component", "audit"),
		})
		// Runs until Stop so disconnects during shutdown are still recorded.
		recorder.Start(context.WithoutCancel(ctx))
		defer func() {
			recorder.Stop()
			log.Info("event history closed", "written", recorder.Written(), "dropped", recorder.Dropped())
		}()
		sessions.AddSink(recorder)
	}

	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix, cfg.Bridge.DiscoveryPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := idotmatrix.New(idotmatrix.Options{
		Config:   cfg.Bridge,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		MQTT:     mqttClient,
		Sessions: sessions,
		Version:  version,
		Logger:   log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	sessions.AddSink(bridge)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log.With("component", "api"),
			Registry:    registry,
			Sessions:    sessions,
			Scanner:     backend,
			ScanTimeout: time.Duration(cfg.BLE.ScanTimeout) * time.Second,
			Health:      bridge.Health(),
			Audit:       auditRepo,
			Daemon:      daemon,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()

		if cfg.API.MDNS.Enabled {
			advertiser := mdns.New(mdns.Config{
				Instance: cfg.API.MDNS.Instance,
				Port:     cfg.API.Port,
				BridgeID: cfg.Bridge.ID,
				Version:  version,
				APIPath:  "/api/v1",
			})
			advertiser.SetLogger(log.With("component", "mdns"))
			if err := advertiser.Start(ctx); err != nil {
				return fmt.Errorf("starting mDNS advertisement: %w", err)
			}
			defer advertiser.Stop()
		}
	}

	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("starting display sessions: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionStopTimeout)
		defer cancel()
		log.Info("disconnecting displays")
		if stopErr := sessions.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping display sessions", "error", stopErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse: sessions, mDNS, API, bridge, MQTT, audit, InfluxDB, bluetoothd, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns IDOTMATRIX_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("IDOTMATRIX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openRegistry loads the display registry and registers the static
// displays from configuration. A static display that is already stored
// keeps its stored record.
func openRegistry(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*display.Registry, error) {
	registry := display.NewRegistry(display.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "registry"))
	registry.SetDefaults(display.Options{
		ScanInterval:      cfg.Displays.ScanInterval,
		ConnectionTimeout: cfg.Displays.ConnectionTimeout,
		RetryAttempts:     cfg.Displays.RetryAttempts,
	})
	if err := registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading display registry: %w", err)
	}

	for _, static := range cfg.Displays.Static {
		d := &display.Display{
			Name:       static.Name,
			MACAddress: static.MACAddress,
			Source:     display.SourceConfig,
		}
		err := registry.Create(ctx, d)
		switch {
		case err == nil:
		case errors.Is(err, display.ErrDuplicateMAC):
			log.Debug("static display already registered", "mac_address", static.MACAddress)
		default:
			return nil, fmt.Errorf("registering static display %s: %w", static.MACAddress, err)
		}
	}
	return registry, nil
}

// adapterProber is implemented by backends that can check the host adapter.
type adapterProber interface {
	EnsurePowered(ctx context.Context) error
}

// startBluetoothd runs bluetoothd under supervision, probing the adapter
// over D-Bus as its watchdog.
func startBluetoothd(ctx context.Context, cfg config.BluetoothdConfig, backend transport.Backend, log *logging.Logger) (*process.Supervisor, error) {
	prober, ok := backend.(adapterProber)
	if !ok {
		return nil, fmt.Errorf("ble.daemon requires the bluez driver")
	}

	sup := process.New(process.Config{
		Name:          "bluetoothd",
		Binary:        cfg.Binary,
		Args:          cfg.Args,
		RestartDelay:  time.Duration(cfg.RestartDelay) * time.Second,
		MaxRestarts:   cfg.MaxRestarts,
		Probe:         prober.EnsurePowered,
		ProbeInterval: time.Duration(cfg.HealthInterval) * time.Second,
	})
	sup.SetLogger(log.With("component", "bluetoothd"))
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bluetoothd: %w", err)
	}
	return sup, nil
}

// loadSessions creates one session per registered display.
func loadSessions(ctx context.Context, registry *display.Registry, sessions *session.Manager) error {
	displays, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing displays: %w", err)
	}
	for _, d := range displays {
		if _, err := sessions.Add(ctx, d); err != nil {
			return fmt.Errorf("creating session for %s: %w", d.MACAddress, err)
		}
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
