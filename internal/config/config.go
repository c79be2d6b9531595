package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxReadBytes caps how much of a file the read tool returns.
// Configs may lower it but never raise it.
const DefaultMaxReadBytes = 10 * 1024 * 1024

// Config represents the main Commanda configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Extensions
	Extensions ExtensionsConfig `json:"extensions" mapstructure:"extensions"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Process lifecycle
	Process ProcessConfig `json:"process" mapstructure:"process"`

	// Call history
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Housekeeping
	Housekeeping HousekeepingConfig `json:"housekeeping" mapstructure:"housekeeping"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// GatewayConfig holds gateway server configuration. Rate limits apply
// per connected client; zero means the server default.
type GatewayConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// ExtensionsConfig holds extension registry configuration
type ExtensionsConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	AutoReload bool   `json:"auto_reload" mapstructure:"auto_reload"`
}

// ToolsConfig holds tool dispatch configuration
type ToolsConfig struct {
	DefaultTimeoutMS int   `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	MaxReadBytes     int64 `json:"max_read_bytes" mapstructure:"max_read_bytes"`
}

// ProcessConfig holds launch and termination timing, in milliseconds.
type ProcessConfig struct {
	StartupWatchMS int `json:"startup_watch_ms" mapstructure:"startup_watch_ms"`
	GracefulWaitMS int `json:"graceful_wait_ms" mapstructure:"graceful_wait_ms"`
	ForcedWaitMS   int `json:"forced_wait_ms" mapstructure:"forced_wait_ms"`
}

// HistoryConfig holds call history retention settings
type HistoryConfig struct {
	RetentionDays int `json:"retention_days" mapstructure:"retention_days"`
}

// HousekeepingConfig holds the cron schedule for periodic maintenance
type HousekeepingConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",
		Gateway: GatewayConfig{
			Host:              "127.0.0.1",
			Port:              8717,
			SharedSecret:      "",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
		Extensions: ExtensionsConfig{
			Dir:        "",
			AutoReload: true,
		},
		Tools: ToolsConfig{
			DefaultTimeoutMS: 30000,
			MaxReadBytes:     DefaultMaxReadBytes,
		},
		Process: ProcessConfig{
			StartupWatchMS: 100,
			GracefulWaitMS: 3000,
			ForcedWaitMS:   5000,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
		Housekeeping: HousekeepingConfig{
			Schedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// DefaultTimeout returns the tool timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Tools.DefaultTimeoutMS) * time.Millisecond
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway host is required")
	}
	if c.Gateway.RequestsPerMinute < 0 {
		return fmt.Errorf("gateway.requests_per_minute must be >= 0, got %d", c.Gateway.RequestsPerMinute)
	}
	if c.Gateway.MaxConcurrent < 0 {
		return fmt.Errorf("gateway.max_concurrent must be >= 0, got %d", c.Gateway.MaxConcurrent)
	}
	if c.Tools.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("tools.default_timeout_ms must be positive, got %d", c.Tools.DefaultTimeoutMS)
	}
	if c.Tools.MaxReadBytes <= 0 || c.Tools.MaxReadBytes > DefaultMaxReadBytes {
		return fmt.Errorf("tools.max_read_bytes must be between 1 and %d, got %d", DefaultMaxReadBytes, c.Tools.MaxReadBytes)
	}
	if c.Process.GracefulWaitMS < 0 || c.Process.ForcedWaitMS < 0 || c.Process.StartupWatchMS < 0 {
		return fmt.Errorf("process wait settings must be >= 0")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must be >= 0, got %d", c.History.RetentionDays)
	}
	if err := NewValidator().ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
