package main

import "github.com/spf13/cobra"

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("zentropy %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
