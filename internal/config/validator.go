package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a housekeeping cron expression. Standard
// five-field specs and descriptors such as @hourly are accepted.
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("housekeeping schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid housekeeping schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidatePort validates a TCP port number
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSharedSecret validates the gateway shared secret. An empty
// secret is allowed and disables remote clients; a short one is not.
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret == "" {
		return nil
	}
	if len(secret) < 16 {
		return fmt.Errorf("gateway shared secret must be at least 16 characters")
	}
	return nil
}

// ValidateTimeoutMS validates a tool timeout in milliseconds
func (v *Validator) ValidateTimeoutMS(timeout int) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", timeout)
	}
	if timeout > 600000 {
		return fmt.Errorf("timeout too large (max 600000 ms), got %d", timeout)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway: %w", err))
	}
	if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
		errors = append(errors, err)
	}
	if cfg.Gateway.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("gateway.requests_per_minute must be >= 0"))
	}
	if cfg.Gateway.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("gateway.max_concurrent must be >= 0"))
	}

	if err := v.ValidateTimeoutMS(cfg.Tools.DefaultTimeoutMS); err != nil {
		errors = append(errors, fmt.Errorf("tools.default_timeout_ms: %w", err))
	}
	if cfg.Tools.MaxReadBytes <= 0 || cfg.Tools.MaxReadBytes > DefaultMaxReadBytes {
		errors = append(errors, fmt.Errorf("tools.max_read_bytes must be between 1 and %d", int64(DefaultMaxReadBytes)))
	}

	if cfg.Process.StartupWatchMS < 0 {
		errors = append(errors, fmt.Errorf("process.startup_watch_ms must be >= 0"))
	}
	if cfg.Process.GracefulWaitMS < 0 {
		errors = append(errors, fmt.Errorf("process.graceful_wait_ms must be >= 0"))
	}
	if cfg.Process.ForcedWaitMS < 0 {
		errors = append(errors, fmt.Errorf("process.forced_wait_ms must be >= 0"))
	}

	if cfg.History.RetentionDays < 0 {
		errors = append(errors, fmt.Errorf("history.retention_days must be >= 0"))
	}

	if err := v.ValidateSchedule(cfg.Housekeeping.Schedule); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
