package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader reads and writes the daemon configuration file.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given path. An empty path selects the
// default location under the user's home directory.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// resolvePath returns the explicit config path when one was given,
// otherwise the default location.
func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".commanda", "config.yaml"), nil
}

// Load merges the config file over the built-in defaults. A missing file
// is not an error: the daemon runs on defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COMMANDA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.fillDerivedPaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDerivedPaths resolves paths left empty in the file to their
// defaults under the data directory.
func (l *Loader) fillDerivedPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".commanda")
	}

	if cfg.Extensions.Dir == "" {
		cfg.Extensions.Dir = filepath.Join(cfg.DataDir, "extensions")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "commanda.log")
	}
	return nil
}

// Save writes the configuration to the config file, creating the parent
// directory when needed. An existing file is overwritten.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("gateway", cfg.Gateway)
	v.Set("extensions", cfg.Extensions)
	v.Set("tools", cfg.Tools)
	v.Set("process", cfg.Process)
	v.Set("history", cfg.History)
	v.Set("housekeeping", cfg.Housekeeping)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path Load and Save operate on.
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

// Load creates a loader for the given path and loads the config.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
