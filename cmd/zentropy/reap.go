package main

import (
	"github.com/spf13/cobra"

	pgxadapter "github.com/ApexAZ/zentropy-sub008/adapters/pgx"
	"github.com/ApexAZ/zentropy-sub008/services"
)

// NewReapCmd creates the reap subcommand.
func NewReapCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete inactive and expired sessions once",
		Long: `Run a single cleanup pass over the session table and print how
many rows were removed. Useful from cron when the server runs with
--reap-interval=0.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			ctx := cmd.Context()

			pool, err := connectDatabase(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			sessions := services.NewSessionManager(cfg.SessionConfig(), pgxadapter.New(pool))
			n, err := services.NewReaper(sessions, cfg.Session.ReapInterval, nil, logger).RunOnce(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Reaped %d sessions\n", n)
			return nil
		},
	}
}
