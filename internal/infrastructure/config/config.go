package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Vacmesh Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Cache    CacheConfig    `yaml:"cache"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Manager  ManagerConfig  `yaml:"manager"`
	Local    LocalConfig    `yaml:"local"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AccountConfig locates the exported account inventory. The vendor API
// adapter runs out of process and writes the inventory export; this
// service only reads it.
type AccountConfig struct {
	InventoryPath string `yaml:"inventory_path"`
}

// AdapterConfig controls supervision of the vendor API adapter process.
// When managed, the core starts the adapter itself and restarts it on
// failure; otherwise an external supervisor is expected to run it.
type AdapterConfig struct {
	Managed            bool     `yaml:"managed"`
	Binary             string   `yaml:"binary"`
	Args               []string `yaml:"args"`
	RestartOnFailure   bool     `yaml:"restart_on_failure"`
	RestartDelay       int      `yaml:"restart_delay"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
	GracefulTimeout    int      `yaml:"graceful_timeout"`

	// ExportMaxAge is the oldest the inventory export may be, in
	// seconds, before the adapter is considered wedged and restarted.
	// 0 disables the freshness check.
	ExportMaxAge int `yaml:"export_max_age"`
}

// CacheConfig contains SQLite cache database settings.
type CacheConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the cloud session.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ManagerConfig contains fleet manager settings.
type ManagerConfig struct {
	// RefreshInterval is how often the account inventory is re-fetched
	// and reconciled, in seconds.
	RefreshInterval int `yaml:"refresh_interval"`

	// AutoConnect controls whether mapped devices are connected automatically.
	// When false, connections are deferred until explicitly requested.
	AutoConnect bool `yaml:"auto_connect"`

	// RequestTimeout is the default per-command timeout in seconds.
	// Callers may override it per call.
	RequestTimeout int `yaml:"request_timeout"`

	// RemovalCycles is the number of consecutive reconciliations a device
	// must be missing from before it is removed. A device missing from a
	// single refresh is treated as transient.
	RemovalCycles int `yaml:"removal_cycles"`
}

// LocalConfig contains local network transport settings for devices
// reachable on the LAN.
type LocalConfig struct {
	// ConnectTimeout is the TCP dial timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReadTimeout is the per-frame read deadline in seconds.
	ReadTimeout int `yaml:"read_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for lifecycle telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VACMESH_SECTION_KEY
// For example: VACMESH_CACHE_PATH, VACMESH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			InventoryPath: "./data/inventory.json",
		},
		Adapter: AdapterConfig{
			Managed:            false,
			RestartOnFailure:   true,
			RestartDelay:       5,
			MaxRestartAttempts: 10,
			GracefulTimeout:    10,
		},
		Cache: CacheConfig{
			Path:        "./data/vacmesh.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vacmesh-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Manager: ManagerConfig{
			RefreshInterval: 600,
			AutoConnect:     true,
			RequestTimeout:  10,
			RemovalCycles:   2,
		},
		Local: LocalConfig{
			ConnectTimeout: 5,
			ReadTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VACMESH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account
	if v := os.Getenv("VACMESH_ACCOUNT_INVENTORY_PATH"); v != "" {
		cfg.Account.InventoryPath = v
	}

	// Cache
	if v := os.Getenv("VACMESH_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}

	// MQTT
	if v := os.Getenv("VACMESH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VACMESH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VACMESH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("VACMESH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cache validation
	if c.Cache.Path == "" {
		errs = append(errs, "cache.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}

	// Adapter validation
	if c.Adapter.Managed && c.Adapter.Binary == "" {
		errs = append(errs, "adapter.binary is required when adapter.managed is true")
	}

	// Manager validation
	if c.Manager.RefreshInterval < 1 {
		errs = append(errs, "manager.refresh_interval must be at least 1 second")
	}
	if c.Manager.RequestTimeout < 1 {
		errs = append(errs, "manager.request_timeout must be at least 1 second")
	}
	if c.Manager.RemovalCycles < 1 {
		errs = append(errs, "manager.removal_cycles must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRefreshInterval returns the reconciliation interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Manager.RefreshInterval) * time.Second
}

// GetRequestTimeout returns the default per-command timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Manager.RequestTimeout) * time.Second
}

// GetAdapterRestartDelay returns the adapter restart delay as a Duration.
func (c *Config) GetAdapterRestartDelay() time.Duration {
	return time.Duration(c.Adapter.RestartDelay) * time.Second
}

// GetAdapterGracefulTimeout returns the adapter shutdown grace period as a Duration.
func (c *Config) GetAdapterGracefulTimeout() time.Duration {
	return time.Duration(c.Adapter.GracefulTimeout) * time.Second
}

// GetAdapterExportMaxAge returns the export freshness window as a Duration.
func (c *Config) GetAdapterExportMaxAge() time.Duration {
	return time.Duration(c.Adapter.ExportMaxAge) * time.Second
}

// GetLocalConnectTimeout returns the local transport dial timeout as a Duration.
func (c *Config) GetLocalConnectTimeout() time.Duration {
	return time.Duration(c.Local.ConnectTimeout) * time.Second
}

// GetLocalReadTimeout returns the local transport read deadline as a Duration.
func (c *Config) GetLocalReadTimeout() time.Duration {
	return time.Duration(c.Local.ReadTimeout) * time.Second
}
