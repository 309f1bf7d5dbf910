// Package cli is the portalchat command line: a mock remote server and a
// handful of commands that drive the sync controller against it.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Gopher0727/PortalChat/config"
	logger "github.com/Gopher0727/PortalChat/middleware/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	// Demo runs against an in-process seeded server instead of remote.base_url.
	Demo bool

	cfg *config.Config
	log *logger.Logger
}

// NewRootCommand creates the root command for the portalchat CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "portalchat",
		Short:         "PortalChat cache and sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.Logging.Level = "debug"
			}
			log, err := logger.NewLogger(&cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.cfg, opts.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (toml, yaml or json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Demo, "demo", false, "use an in-process demo server instead of remote.base_url")

	cmd.AddCommand(NewMockServerCommand(opts))
	cmd.AddCommand(NewGroupsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewMetricsCommand(opts))

	return cmd
}
