package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the iDotMatrix bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	BLE       BLEConfig       `yaml:"ble"`
	Displays  DisplaysConfig  `yaml:"displays"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
}

// BridgeConfig identifies this bridge instance on the MQTT bus.
type BridgeConfig struct {
	ID              string `yaml:"id" validate:"required"`
	Name            string `yaml:"name"`
	TopicPrefix     string `yaml:"topic_prefix" validate:"required"`
	DiscoveryPrefix string `yaml:"discovery_prefix" validate:"required"`
	HealthInterval  int    `yaml:"health_interval" validate:"min=5,max=3600"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" validate:"required"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" validate:"min=0"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" validate:"min=0,max=2"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" validate:"required"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" validate:"min=0"`
	MaxDelay     int `yaml:"max_delay" validate:"min=0"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port" validate:"min=1,max=65535"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the browser console from disk instead of the
	// embedded copy. Empty uses the embedded assets.
	PanelDir string `yaml:"panel_dir"`

	MDNS MDNSConfig `yaml:"mdns"`
}

// MDNSConfig controls DNS-SD advertisement of the API.
type MDNSConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instance is the advertised name. Empty uses the host name.
	Instance string `yaml:"instance"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" validate:"min=1"`
	Write int `yaml:"write" validate:"min=1"`
	Idle  int `yaml:"idle" validate:"min=1"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" validate:"required,startswith=/"`
	MaxMessageSize int    `yaml:"max_message_size" validate:"min=512"`
	PingInterval   int    `yaml:"ping_interval" validate:"min=1"`
	PongTimeout    int    `yaml:"pong_timeout" validate:"min=1"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size" validate:"min=0"`
	FlushInterval int    `yaml:"flush_interval" validate:"min=0"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string            `yaml:"format" validate:"oneof=json text"`
	Output string            `yaml:"output" validate:"oneof=stdout stderr file"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Sizes are in megabytes, ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAge     int    `yaml:"max_age" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// BLEConfig selects the Bluetooth library adapter used to reach displays.
type BLEConfig struct {
	// Driver is one of "bluez", "tinygo", "goble" or "simulator".
	Driver string `yaml:"driver" validate:"oneof=bluez tinygo goble simulator"`

	// Adapter is the host controller name, e.g. "hci0".
	Adapter string `yaml:"adapter" validate:"required"`

	// WriteTimeout bounds a single GATT write, in seconds.
	WriteTimeout int `yaml:"write_timeout" validate:"min=1,max=60"`

	// ScanTimeout is the default discovery window, in seconds.
	ScanTimeout int `yaml:"scan_timeout" validate:"min=1,max=60"`

	Daemon BluetoothdConfig `yaml:"daemon"`
}

// BluetoothdConfig runs bluetoothd as a supervised child process, for
// containers that have no init system of their own.
type BluetoothdConfig struct {
	Enabled bool     `yaml:"enabled"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`

	// RestartDelay is the pause before restarting a crashed daemon, in seconds.
	RestartDelay int `yaml:"restart_delay" validate:"min=1,max=300"`

	// MaxRestarts gives up after this many restarts. 0 means never give up.
	MaxRestarts int `yaml:"max_restarts" validate:"min=0"`

	// HealthInterval is how often the adapter is probed over D-Bus, in seconds.
	HealthInterval int `yaml:"health_interval" validate:"min=5,max=600"`
}

// DisplaysConfig holds the default per-display options and any displays
// declared statically in the config file.
type DisplaysConfig struct {
	ScanInterval      int             `yaml:"scan_interval" validate:"min=10,max=300"`
	ConnectionTimeout int             `yaml:"connection_timeout" validate:"min=5,max=120"`
	RetryAttempts     int             `yaml:"retry_attempts" validate:"min=1,max=10"`
	SyncTimeOnConnect bool            `yaml:"sync_time_on_connect"`
	Static            []StaticDisplay `yaml:"static" validate:"dive"`
}

// StaticDisplay is a display declared in YAML rather than through the API.
type StaticDisplay struct {
	Name       string `yaml:"name"`
	MACAddress string `yaml:"mac_address" validate:"required"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a reverse proxy that sets them; otherwise
	// any client can pick its own rate-limit bucket.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// JWTConfig contains bearer token settings for the HTTP API.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// RateLimitConfig contains per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" validate:"min=0"`
	Burst             int  `yaml:"burst" validate:"min=0"`
}

// AuditConfig controls the persisted session event history.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long events are kept. Zero keeps them forever.
	RetentionDays int `yaml:"retention_days" validate:"min=0"`

	// BufferSize is the number of events queued for writing before new ones are dropped.
	BufferSize int `yaml:"buffer_size" validate:"min=1"`
}

// minJWTSecretLength is the shortest HS256 secret accepted.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IDOTMATRIX_SECTION_KEY
// For example: IDOTMATRIX_DATABASE_PATH, IDOTMATRIX_BLE_DRIVER
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "idotmatrix-01",
			Name:            "iDotMatrix Bridge",
			TopicPrefix:     "idotmatrix",
			DiscoveryPrefix: "homeassistant",
			HealthInterval:  30,
		},
		Database: DatabaseConfig{
			Path:        "./data/idotmatrix.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "idotmatrix-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MDNS: MDNSConfig{Enabled: true},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		BLE: BLEConfig{
			Driver:       "bluez",
			Adapter:      "hci0",
			WriteTimeout: 5,
			ScanTimeout:  5,
			Daemon: BluetoothdConfig{
				Binary:         "/usr/libexec/bluetooth/bluetoothd",
				Args:           []string{"--nodetach"},
				RestartDelay:   5,
				MaxRestarts:    10,
				HealthInterval: 30,
			},
		},
		Displays: DisplaysConfig{
			ScanInterval:      30,
			ConnectionTimeout: 10,
			RetryAttempts:     3,
			SyncTimeOnConnect: true,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "idotmatrix-bridge",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
			BufferSize:    256,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IDOTMATRIX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("IDOTMATRIX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("IDOTMATRIX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IDOTMATRIX_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("IDOTMATRIX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IDOTMATRIX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("IDOTMATRIX_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// BLE
	if v := os.Getenv("IDOTMATRIX_BLE_DRIVER"); v != "" {
		cfg.BLE.Driver = v
	}
	if v := os.Getenv("IDOTMATRIX_BLE_ADAPTER"); v != "" {
		cfg.BLE.Adapter = v
	}

	// InfluxDB
	if v := os.Getenv("IDOTMATRIX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("IDOTMATRIX_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Field ranges are declared as struct tags and checked by the validator;
// cross-field rules that tags cannot express are checked by hand. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.BLE.Daemon.Enabled {
		if c.BLE.Daemon.Binary == "" {
			errs = append(errs, "ble.daemon.binary is required when ble.daemon is enabled")
		}
		if c.BLE.Driver != "bluez" {
			errs = append(errs, "ble.daemon requires ble.driver bluez")
		}
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when jwt is enabled (set IDOTMATRIX_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// structValidator reports field names using their yaml tags so messages
// match what the operator wrote in the config file.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeFieldError turns a validator error into "section.key must ...".
func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest // drop the root type name
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// HealthInterval returns the bridge health publish interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}
