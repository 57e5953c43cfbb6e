package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ApexAZ/zentropy-sub008/internal/config"
)

// NewRootCmd creates the root command for the zentropy CLI.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "zentropy",
		Short: "zentropy - session authentication for team capacity planning",
		Long: `zentropy serves the authentication API of the capacity planner:
email and password login, server-side sessions, password policy with
history, and rate limiting of sensitive actions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	load := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
		return cfg, nil
	}

	cmd.AddCommand(NewServeCmd(load))
	cmd.AddCommand(NewMigrateCmd(load))
	cmd.AddCommand(NewReapCmd(load))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// configLoader resolves the configuration for a subcommand invocation.
type configLoader func(cmd *cobra.Command) (*config.Config, error)
