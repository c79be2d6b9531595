package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tyonishi/commanda-sub001/internal/config"
	"github.com/tyonishi/commanda-sub001/internal/pidfile"
)

func newStopCmd(opts *rootOptions) *cobra.Command {
	var timeoutSecs int

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the Commanda gateway daemon",
		Long: `Stop the Commanda gateway daemon gracefully.
Sends SIGTERM to the daemon and waits for it to shut down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, opts, time.Duration(timeoutSecs)*time.Second)
		},
	}
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 30, "seconds to wait for the daemon to stop before sending SIGKILL")
	return cmd
}

func runStop(cmd *cobra.Command, opts *rootOptions, wait time.Duration) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pidFile := pidFilePath(cfg)
	pid, err := pidfile.Read(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "Daemon is not running")
			return nil
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if !pidfile.Alive(pid) {
		// A crashed daemon leaves its PID file behind.
		os.Remove(pidFile)
		fmt.Fprintln(out, "Daemon is not running (removed stale PID file)")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !pidfile.Alive(pid) {
			os.Remove(pidFile)
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(out, "Daemon killed")
	return nil
}
