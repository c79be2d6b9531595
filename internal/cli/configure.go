package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tyonishi/commanda-sub001/internal/config"
)

func newConfigureCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write the default configuration file",
		Long: `Write the default configuration file so it can be edited by hand.
An existing file is left alone unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, opts, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runConfigure(cmd *cobra.Command, opts *rootOptions, force bool) error {
	out := cmd.OutOrStdout()

	loader := config.NewLoader(opts.cfgFile)
	configPath := loader.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()

	validator := config.NewValidator()
	if errs := validator.ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("default configuration is invalid: %v", errs[0])
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "You can now start the daemon with: commanda start")

	return nil
}
