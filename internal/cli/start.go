package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tyonishi/commanda-sub001/internal/config"
	"github.com/tyonishi/commanda-sub001/internal/daemon"
	"github.com/tyonishi/commanda-sub001/internal/logger"
	"github.com/tyonishi/commanda-sub001/internal/pidfile"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Commanda gateway daemon",
		Long: `Start the Commanda gateway daemon in the foreground.
The daemon serves tool-call requests on the local gateway port until
it receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, opts)
		},
	}
}

func runStart(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := pidFilePath(cfg)
	if pidfile.Running(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Commanda daemon started (pid %d, gateway %s:%d)\n",
		os.Getpid(), cfg.Gateway.Host, cfg.Gateway.Port)

	// Blocks until SIGINT/SIGTERM, then stops the daemon.
	d.Wait()

	return nil
}
