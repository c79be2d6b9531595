package cli

import (
	"os"
	"path/filepath"

	"github.com/tyonishi/commanda-sub001/internal/config"
	"github.com/tyonishi/commanda-sub001/internal/pidfile"
)

// pidFilePath derives the PID file location from the configured data dir.
func pidFilePath(cfg *config.Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return filepath.Join(cfg.DataDir, pidfile.Name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), pidfile.Name)
	}
	return filepath.Join(home, ".commanda", pidfile.Name)
}
