package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const terminatePollInterval = 100 * time.Millisecond

// protectedNames are processes the manager refuses to terminate. Killing
// any of these takes down the user session or the OS itself.
var protectedNames = map[string]struct{}{
	"csrss":    {},
	"wininit":  {},
	"winlogon": {},
	"smss":     {},
	"services": {},
	"lsass":    {},
	"svchost":  {},
	"dwm":      {},
	"explorer": {},
	"systemd":  {},
	"init":     {},
	"launchd":  {},
}

// Info is one row of a process listing. Every attribute beyond the pid is
// best-effort; a collection failure leaves it zero without failing the
// whole listing.
type Info struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	WindowTitle string  `json:"window_title,omitempty"`
	MemoryMB    float64 `json:"memory_mb"`
}

// Config holds the manager timing knobs
type Config struct {
	// StartupWatch is how long a freshly launched process is watched for
	// an immediate exit before the launch counts as successful.
	StartupWatch time.Duration
	// GracefulWait is the poll window after a graceful stop request.
	GracefulWait time.Duration
	// ForcedWait is the poll window after a forced kill.
	ForcedWait time.Duration
}

// DefaultConfig returns the standard timing configuration
func DefaultConfig() Config {
	return Config{
		StartupWatch: 100 * time.Millisecond,
		GracefulWait: 3 * time.Second,
		ForcedWait:   5 * time.Second,
	}
}

// Manager launches, terminates and lists host processes
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	insp   inspector

	mu       sync.Mutex
	launched map[int32]*exec.Cmd
}

// NewManager creates a process manager backed by the live host
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return newManager(cfg, logger, gopsInspector{})
}

func newManager(cfg Config, logger zerolog.Logger, insp inspector) *Manager {
	if cfg.StartupWatch == 0 {
		cfg.StartupWatch = DefaultConfig().StartupWatch
	}
	if cfg.GracefulWait == 0 {
		cfg.GracefulWait = DefaultConfig().GracefulWait
	}
	if cfg.ForcedWait == 0 {
		cfg.ForcedWait = DefaultConfig().ForcedWait
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "process").Logger(),
		insp:     insp,
		launched: make(map[int32]*exec.Cmd),
	}
}

// Launch starts the executable directly, never through a shell. The
// argument string is split quote-aware into argv. A missing working
// directory fails before anything starts. The new process is watched
// briefly for an immediate exit, which is reported as a launch failure;
// otherwise its pid is returned and the child is reaped in the background.
func (m *Manager) Launch(ctx context.Context, path, arguments, workingDir string) (int32, error) {
	resolved, ok := ResolvePath(path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotResolved, path)
	}

	if workingDir != "" {
		info, err := os.Stat(workingDir)
		if err != nil || !info.IsDir() {
			return 0, fmt.Errorf("%w: %s", ErrWorkingDirectory, workingDir)
		}
	}

	cmd := exec.Command(resolved, SplitCommandLine(arguments)...)
	cmd.Dir = workingDir

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", resolved, err)
	}
	pid := int32(cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	watch := time.NewTimer(m.cfg.StartupWatch)
	defer watch.Stop()

	select {
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrExitedImmediately, err)
		}
		return 0, fmt.Errorf("%w (pid %d)", ErrExitedImmediately, pid)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return 0, ctx.Err()
	case <-watch.C:
	}

	m.mu.Lock()
	m.launched[pid] = cmd
	m.mu.Unlock()

	go func() {
		<-done
		m.mu.Lock()
		delete(m.launched, pid)
		m.mu.Unlock()
		m.logger.Debug().Int32("pid", pid).Msg("Launched process exited")
	}()

	m.logger.Info().
		Str("path", resolved).
		Str("working_dir", workingDir).
		Int32("pid", pid).
		Msg("Process launched")

	return pid, nil
}

// Terminate stops the process with the given pid. A graceful stop request
// comes first; when it is delivered the manager polls for exit before
// escalating to a forced kill with its own poll window. A graceful request
// that cannot be delivered at all skips straight to the forced kill.
func (m *Manager) Terminate(ctx context.Context, pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	proc, err := m.insp.Find(ctx, pid)
	if err != nil {
		return err
	}

	name, err := proc.Name(ctx)
	if err != nil {
		name = ""
	}
	if isProtectedName(name) {
		return fmt.Errorf("%w: %s (pid %d)", ErrProtected, name, pid)
	}

	if err := proc.Terminate(ctx); err == nil {
		stopped, werr := m.waitForExit(ctx, proc, m.cfg.GracefulWait)
		if werr != nil {
			return werr
		}
		if stopped {
			m.logger.Info().Int32("pid", pid).Str("name", name).Msg("Process stopped gracefully")
			return nil
		}
	} else {
		m.logger.Debug().Err(err).Int32("pid", pid).Msg("Graceful stop not delivered, forcing")
	}

	if err := proc.Kill(ctx); err != nil {
		if running, rerr := proc.Running(ctx); rerr == nil && !running {
			return nil
		}
		return fmt.Errorf("forced kill of pid %d failed: %w", pid, err)
	}
	stopped, werr := m.waitForExit(ctx, proc, m.cfg.ForcedWait)
	if werr != nil {
		return werr
	}
	if !stopped {
		return fmt.Errorf("%w: pid %d", ErrStillRunning, pid)
	}

	m.logger.Info().Int32("pid", pid).Str("name", name).Msg("Process killed")
	return nil
}

// waitForExit polls the process until it is gone, the window elapses or
// the context is cancelled.
func (m *Manager) waitForExit(ctx context.Context, proc runningProcess, window time.Duration) (bool, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(terminatePollInterval)
	defer ticker.Stop()

	for {
		running, err := proc.Running(ctx)
		if err != nil || !running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// ListRunning returns a best-effort snapshot of host processes sorted by
// pid. Attribute failures on individual processes never abort the listing.
func (m *Manager) ListRunning(ctx context.Context) ([]Info, error) {
	procs, err := m.insp.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot processes: %w", err)
	}

	infos := make([]Info, 0, len(procs))
	for _, p := range procs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		info := Info{PID: p.PID()}
		if name, err := p.Name(ctx); err == nil {
			info.Name = name
		}
		if title, err := p.WindowTitle(ctx); err == nil {
			info.WindowTitle = title
		}
		if mb, err := p.MemoryMB(ctx); err == nil {
			info.MemoryMB = mb
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos, nil
}

// PruneExited drops tracking entries for launched children that are no
// longer running and returns how many were removed. The background reaper
// normally handles this; the sweep exists for periodic housekeeping.
func (m *Manager) PruneExited(ctx context.Context) int {
	m.mu.Lock()
	pids := make([]int32, 0, len(m.launched))
	for pid := range m.launched {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	pruned := 0
	for _, pid := range pids {
		proc, err := m.insp.Find(ctx, pid)
		alive := false
		if err == nil {
			alive, _ = proc.Running(ctx)
		}
		if !alive {
			m.mu.Lock()
			if _, tracked := m.launched[pid]; tracked {
				delete(m.launched, pid)
				pruned++
			}
			m.mu.Unlock()
		}
	}
	return pruned
}

// TrackedCount reports how many launched children are still tracked
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.launched)
}

func isProtectedName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(n, "."); i > 0 {
		n = n[:i]
	}
	_, ok := protectedNames[n]
	return ok
}
