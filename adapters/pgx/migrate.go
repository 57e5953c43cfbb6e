package pgx

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return oops.Code("MIGRATE_DIALECT").Wrap(err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return oops.Code("MIGRATE_FAILED").Wrap(err)
	}
	return nil
}

// MigrationVersion reports the schema version currently applied.
func MigrationVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, oops.Code("MIGRATE_DIALECT").Wrap(err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, oops.Code("MIGRATE_VERSION_FAILED").Wrap(err)
	}
	return version, nil
}
