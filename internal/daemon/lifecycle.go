package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tyonishi/commanda-sub001/internal/pidfile"
)

// LifecycleManager owns the PID file so stop/status invocations can find
// the running daemon, and refuses to start a second instance over a live one.
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: filepath.Join(d.config.DataDir, pidfile.Name),
	}
}

// Start claims the PID file. A file naming a live foreign process aborts
// startup; one left behind by a crashed instance is taken over.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	stalePID, err := pidfile.Claim(l.pidFile)
	if errors.Is(err, pidfile.ErrAlreadyRunning) {
		return fmt.Errorf("daemon %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if stalePID != 0 {
		l.daemon.logger.Warn().
			Int("stale_pid", stalePID).
			Str("pid_file", l.pidFile).
			Msg("Overwrote stale PID file")
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop releases the PID file
func (l *LifecycleManager) Stop() error {
	if err := pidfile.Release(l.pidFile); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")

	return nil
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// GetPID returns the daemon PID from the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return pidfile.Read(l.pidFile)
}

// IsRunning checks if the daemon process recorded in the PID file exists
func (l *LifecycleManager) IsRunning() bool {
	return pidfile.Running(l.pidFile)
}
