package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	pgxadapter "github.com/ApexAZ/zentropy-sub008/adapters/pgx"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending schema migrations to the PostgreSQL database.`,
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

			cmd.Println("Running migrations...")
			if err := pgxadapter.Migrate(ctx, pool); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
			}

			current, err := pgxadapter.MigrationVersion(ctx, pool)
			if err != nil {
				return err
			}
			cmd.Printf("Migrations completed, schema version %d\n", current)
			return nil
		},
	}
}
