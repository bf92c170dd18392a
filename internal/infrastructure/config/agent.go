package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the configuration of the on-device kiosk agent.
type AgentConfig struct {
	Device    DeviceConfig    `yaml:"device"`
	Cache     CacheConfig     `yaml:"cache"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig locates the fleet backend and the device's local state.
type DeviceConfig struct {
	// DataDir holds the credential store, device identifier and content cache.
	DataDir string `yaml:"data_dir"`

	// APIURL is the fleetd HTTP base, e.g. http://fleet.example.com/api/v1.
	APIURL string `yaml:"api_url"`

	// RealtimeURL is the device websocket endpoint, e.g. ws://fleet.example.com/api/v1/realtime.
	RealtimeURL string `yaml:"realtime_url"`

	// Nickname is offered when requesting a pairing code.
	Nickname string `yaml:"nickname"`

	// PairingPollInterval is how often a pending pairing code is polled (seconds).
	PairingPollInterval int `yaml:"pairing_poll_interval"`
}

// CacheConfig bounds the on-device content cache.
type CacheConfig struct {
	MaxSizeMB int `yaml:"max_size_mb"`
}

// HeartbeatConfig controls the realtime heartbeat.
type HeartbeatConfig struct {
	Interval int `yaml:"interval"`
}

// RendererConfig describes the local content renderer the agent supervises.
// An empty Command runs the agent headless.
type RendererConfig struct {
	// Command is the renderer executable, e.g. /usr/bin/chromium.
	Command string `yaml:"command"`

	// Args are passed to Command. The literal "{url}" is replaced with the
	// player URL, including pairing or display query parameters.
	Args []string `yaml:"args"`

	// FullscreenArgs are appended while fullscreen is on.
	FullscreenArgs []string `yaml:"fullscreen_args"`

	// URL is the web player address.
	URL string `yaml:"url"`

	Fullscreen bool `yaml:"fullscreen"`

	// RestartDelay is the first backoff after a renderer crash (seconds).
	RestartDelay int `yaml:"restart_delay"`
}

// LoadAgent reads the agent configuration.
//
// A missing file is not an error: a factory-fresh display boots on defaults
// and KIOSK_* environment overrides alone.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := defaultAgentConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing agent config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading agent config: %w", err)
	}

	applyAgentEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating agent config: %w", err)
	}

	return cfg, nil
}

// SaveAgent writes cfg to path atomically.
func SaveAgent(path string, cfg *AgentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding agent config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing agent config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing agent config: %w", err)
	}
	return nil
}

func defaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Device: DeviceConfig{
			DataDir:             "./data",
			APIURL:              "http://localhost:3000/api/v1",
			RealtimeURL:         "ws://localhost:3000/api/v1/realtime",
			PairingPollInterval: 6,
		},
		Cache: CacheConfig{
			MaxSizeMB: 500,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 15,
		},
		Renderer: RendererConfig{
			Args:           []string{"--noerrdialogs", "--disable-infobars", "{url}"},
			FullscreenArgs: []string{"--kiosk"},
			URL:            "http://localhost:3001/display",
			Fullscreen:     true,
			RestartDelay:   2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func applyAgentEnvOverrides(cfg *AgentConfig) {
	if v := os.Getenv("KIOSK_DATA_DIR"); v != "" {
		cfg.Device.DataDir = v
	}
	if v := os.Getenv("KIOSK_API_URL"); v != "" {
		cfg.Device.APIURL = v
	}
	if v := os.Getenv("KIOSK_REALTIME_URL"); v != "" {
		cfg.Device.RealtimeURL = v
	}
	if v := os.Getenv("KIOSK_CACHE_MAX_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxSizeMB = mb
		}
	}
	if v := os.Getenv("KIOSK_RENDERER_COMMAND"); v != "" {
		cfg.Renderer.Command = v
	}
	if v := os.Getenv("KIOSK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	var errs []string

	if c.Device.DataDir == "" {
		errs = append(errs, "device.data_dir is required")
	}
	if c.Device.APIURL == "" {
		errs = append(errs, "device.api_url is required")
	}
	if c.Device.RealtimeURL == "" {
		errs = append(errs, "device.realtime_url is required")
	}
	if c.Device.PairingPollInterval < 1 {
		errs = append(errs, "device.pairing_poll_interval must be positive")
	}
	if c.Cache.MaxSizeMB < 1 {
		errs = append(errs, "cache.max_size_mb must be positive")
	}
	if c.Heartbeat.Interval < 1 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if c.Renderer.Command != "" && c.Renderer.URL == "" {
		errs = append(errs, "renderer.url is required when renderer.command is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CacheMaxBytes returns the cache budget in bytes.
func (c *AgentConfig) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxSizeMB) * 1024 * 1024
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *AgentConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// GetPairingPollInterval returns the pairing poll interval as a Duration.
func (c *AgentConfig) GetPairingPollInterval() time.Duration {
	return time.Duration(c.Device.PairingPollInterval) * time.Second
}

// ApplyOverrides merges a remote update_config payload into the agent config.
// Unknown keys are ignored; the returned slice names the keys that changed.
func (c *AgentConfig) ApplyOverrides(values map[string]any) []string {
	var changed []string

	if v, ok := intValue(values["heartbeatInterval"]); ok && v > 0 {
		// Remote values are milliseconds.
		secs := v / 1000
		if secs < 1 {
			secs = 1
		}
		if secs != c.Heartbeat.Interval {
			c.Heartbeat.Interval = secs
			changed = append(changed, "heartbeatInterval")
		}
	}
	if v, ok := intValue(values["cacheSize"]); ok && v > 0 {
		mb := v / (1024 * 1024)
		if mb < 1 {
			mb = 1
		}
		if mb != c.Cache.MaxSizeMB {
			c.Cache.MaxSizeMB = mb
			changed = append(changed, "cacheSize")
		}
	}
	if v, ok := values["nickname"].(string); ok && v != "" && v != c.Device.Nickname {
		c.Device.Nickname = v
		changed = append(changed, "nickname")
	}
	if v, ok := values["apiUrl"].(string); ok && v != "" && v != c.Device.APIURL {
		c.Device.APIURL = v
		changed = append(changed, "apiUrl")
	}
	if v, ok := values["realtimeUrl"].(string); ok && v != "" && v != c.Device.RealtimeURL {
		c.Device.RealtimeURL = v
		changed = append(changed, "realtimeUrl")
	}
	if v, ok := values["logLevel"].(string); ok && v != "" && v != c.Logging.Level {
		c.Logging.Level = v
		changed = append(changed, "logLevel")
	}

	return changed
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
