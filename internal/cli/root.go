package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootOptions carries the global flag values shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the commanda command tree. Every call returns a fresh
// tree with its own flag state; nothing is shared through package globals.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "commanda",
		Short: "Commanda - local command-execution gateway",
		Long: `Commanda is a local command-execution gateway. It receives structured
tool-call requests, checks them against a security policy, and executes
them against host files and processes. Extensions can contribute
additional tools.`,
		Version: version,

		// Usage is for flag mistakes. A failed subcommand run prints only
		// the error.
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.commanda/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newStartCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newConfigureCmd(opts),
	)
	return cmd
}

// Execute runs the CLI. Called by main.
func Execute() error {
	return NewRootCmd().Execute()
}
