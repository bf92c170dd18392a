package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fleet server (fleetd).
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig identifies this fleetd instance.
type ServerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains the shared key-value store settings.
// When disabled, pairing requests, device status and command queues live in process memory.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig contains MQTT broker connection settings.
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
}

// RateLimitConfig contains per-client limits for the public pairing endpoints.
type RateLimitConfig struct {
	Enabled            bool `yaml:"enabled"`
	PairingRequestsRPM int  `yaml:"pairing_requests_rpm"`
	PairingStatusRPM   int  `yaml:"pairing_status_rpm"`
	MaxClients         int  `yaml:"max_clients"`
}

// WebSocketConfig contains settings shared by the device gateway and dashboard hub.
type WebSocketConfig struct {
	MaxMessageSize    int `yaml:"max_message_size"`
	PingInterval      int `yaml:"ping_interval"`
	PongTimeout       int `yaml:"pong_timeout"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings for heartbeat metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// PairingConfig contains pairing code settings.
type PairingConfig struct {
	// WebURL is the dashboard base URL embedded in pairing links and QR codes.
	WebURL string `yaml:"web_url"`

	// Store selects where live pairing requests are kept: "memory" or "redis".
	Store string `yaml:"store"`

	// SweepInterval is how often expired requests are purged (seconds, memory store only).
	SweepInterval int `yaml:"sweep_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT signing settings.
//
// DeviceSecret signs the long-lived credentials issued to paired displays.
// UserSecret verifies bearer tokens issued by the organisation auth layer.
type JWTConfig struct {
	DeviceSecret   string `yaml:"device_secret"`
	UserSecret     string `yaml:"user_secret"`
	DeviceTokenTTL int    `yaml:"device_token_ttl_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEETD_SECTION_KEY
// For example: FLEETD_DATABASE_PATH, FLEETD_REDIS_ADDR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ID:   "fleetd-001",
			Name: "Fleet Server",
		},
		Database: DatabaseConfig{
			Path:        "./data/fleetd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetd",
			},
			QoS:         1,
			TopicPrefix: "fleet",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:            true,
				PairingRequestsRPM: 5,
				PairingStatusRPM:   10,
				MaxClients:         10000,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize:    65536,
			PingInterval:      25,
			PongTimeout:       20,
			HeartbeatInterval: 15,
		},
		Pairing: PairingConfig{
			WebURL:        "http://localhost:3001",
			Store:         "memory",
			SweepInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				DeviceTokenTTL: 365,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEETD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FLEETD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Redis
	if v := os.Getenv("FLEETD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("FLEETD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("FLEETD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEETD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLEETD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLEETD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("FLEETD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Pairing
	if v := os.Getenv("FLEETD_WEB_URL"); v != "" {
		cfg.Pairing.WebURL = v
	}

	// Security - always override secrets in production
	if v := os.Getenv("FLEETD_DEVICE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.DeviceSecret = v
	}
	if v := os.Getenv("FLEETD_USER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.UserSecret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Server.ID == "" {
		errs = append(errs, "server.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Pairing.Store {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "pairing.store \"redis\" requires redis.enabled")
		}
	default:
		errs = append(errs, "pairing.store must be \"memory\" or \"redis\"")
	}

	if c.Pairing.WebURL == "" {
		errs = append(errs, "pairing.web_url is required")
	}

	if c.Security.JWT.DeviceTokenTTL < 1 {
		errs = append(errs, "security.jwt.device_token_ttl_days must be positive")
	}

	// Device credentials are valid for a year; a weak secret lets anyone
	// mint a display identity for any organisation.
	const minJWTSecretLength = 32
	if c.Security.JWT.DeviceSecret == "" {
		errs = append(errs, "security.jwt.device_secret is required (set FLEETD_DEVICE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.DeviceSecret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.device_secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.UserSecret == "" {
		errs = append(errs, "security.jwt.user_secret is required (set FLEETD_USER_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.UserSecret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.user_secret must be at least 32 characters for adequate security")
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

// GetSweepInterval returns the pairing sweep interval as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Pairing.SweepInterval) * time.Second
}

// GetDeviceTokenTTL returns the validity of issued device credentials.
func (c *Config) GetDeviceTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.DeviceTokenTTL) * 24 * time.Hour
}

// GetHeartbeatInterval returns the heartbeat interval advertised to devices.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.WebSocket.HeartbeatInterval) * time.Second
}
