package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Ascot gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Registry  RegistryConfig  `yaml:"registry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig contains gateway identity information.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DiscoveryConfig contains mDNS/DNS-SD browse settings.
type DiscoveryConfig struct {
	Service string               `yaml:"service"`
	Domain  string               `yaml:"domain"`
	Buffer  int                  `yaml:"buffer"`
	Retry   DiscoveryRetryConfig `yaml:"retry"`
}

// DiscoveryRetryConfig controls restarts of a failed browse session.
// Delays are in seconds; MaxAttempts of 0 means retry forever.
type DiscoveryRetryConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ResolverConfig contains capability manifest fetch settings.
type ResolverConfig struct {
	Timeout             int    `yaml:"timeout"`
	Retries             int    `yaml:"retries"`
	RetryInitialDelayMS int    `yaml:"retry_initial_delay_ms"`
	ManifestPath        string `yaml:"manifest_path"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
	MaxConcurrent       int    `yaml:"max_concurrent"`
}

// RegistryConfig contains device registry tuning.
// StaleAfter and SweepInterval are in seconds.
type RegistryConfig struct {
	StaleAfter    int `yaml:"stale_after"`
	SweepInterval int `yaml:"sweep_interval"`
	MaxFailures   int `yaml:"max_failures"`
	PersistQueue  int `yaml:"persist_queue"`
}

// DispatchConfig contains command delivery settings.
type DispatchConfig struct {
	Timeout int `yaml:"timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the
// automation bridge. The bridge is optional; Enabled gates it.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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
// Environment variables follow the pattern: ASCOT_SECTION_KEY
// For example: ASCOT_DATABASE_PATH, ASCOT_MQTT_HOST
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
		Gateway: GatewayConfig{
			ID:   "ascot-gw-001",
			Name: "Ascot Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/ascot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Discovery: DiscoveryConfig{
			Service: "_ascot._tcp",
			Domain:  "local.",
			Buffer:  64,
			Retry: DiscoveryRetryConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Resolver: ResolverConfig{
			Timeout:             5,
			Retries:             2,
			RetryInitialDelayMS: 250,
			ManifestPath:        "/.well-known/ascot",
			MaxBodyBytes:        1 << 20,
			MaxConcurrent:       4,
		},
		Registry: RegistryConfig{
			StaleAfter:    90,
			SweepInterval: 15,
			MaxFailures:   3,
			PersistQueue:  128,
		},
		Dispatch: DispatchConfig{
			Timeout: 10,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ascot-gateway",
			},
			QoS:         1,
			TopicPrefix: "ascot",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ASCOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ASCOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ASCOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ASCOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ASCOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ASCOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ASCOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Discovery validation
	if c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required")
	}
	if c.Discovery.Buffer < 1 {
		errs = append(errs, "discovery.buffer must be at least 1")
	}

	// Resolver validation
	if c.Resolver.Timeout < 1 {
		errs = append(errs, "resolver.timeout must be at least 1 second")
	}
	if c.Resolver.Retries < 0 {
		errs = append(errs, "resolver.retries must not be negative")
	}
	if c.Resolver.MaxConcurrent <= 0 {
		errs = append(errs, "resolver.max_concurrent must be positive")
	}
	if !strings.HasPrefix(c.Resolver.ManifestPath, "/") {
		errs = append(errs, "resolver.manifest_path must begin with /")
	}

	// Registry validation
	if c.Registry.MaxFailures < 1 {
		errs = append(errs, "registry.max_failures must be at least 1")
	}
	if c.Registry.StaleAfter < 1 {
		errs = append(errs, "registry.stale_after must be at least 1 second")
	}
	if c.Registry.SweepInterval < 1 {
		errs = append(errs, "registry.sweep_interval must be at least 1 second")
	}

	// Dispatch validation
	if c.Dispatch.Timeout < 1 {
		errs = append(errs, "dispatch.timeout must be at least 1 second")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetResolverTimeout returns the per-attempt manifest fetch timeout as a Duration.
func (c *Config) GetResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.Timeout) * time.Second
}

// GetResolverRetryDelay returns the initial manifest retry backoff as a Duration.
func (c *Config) GetResolverRetryDelay() time.Duration {
	return time.Duration(c.Resolver.RetryInitialDelayMS) * time.Millisecond
}

// GetDispatchTimeout returns the command delivery timeout as a Duration.
func (c *Config) GetDispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.Timeout) * time.Second
}

// GetStaleAfter returns the silence interval after which a fresh device
// is considered stale, as a Duration.
func (c *Config) GetStaleAfter() time.Duration {
	return time.Duration(c.Registry.StaleAfter) * time.Second
}

// GetSweepInterval returns the staleness sweep period as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepInterval) * time.Second
}

// GetDiscoveryInitialDelay returns the first browse restart delay as a Duration.
func (c *Config) GetDiscoveryInitialDelay() time.Duration {
	return time.Duration(c.Discovery.Retry.InitialDelay) * time.Second
}

// GetDiscoveryMaxDelay returns the browse restart delay ceiling as a Duration.
func (c *Config) GetDiscoveryMaxDelay() time.Duration {
	return time.Duration(c.Discovery.Retry.MaxDelay) * time.Second
}
