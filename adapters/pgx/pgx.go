package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// DB is the subset of *pgxpool.Pool and pgx.Tx the adapter needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Adapter implements core.StorageProvider on PostgreSQL.
type Adapter struct {
	db   DB
	inTx bool
}

var _ core.StorageProvider = (*Adapter)(nil)

func New(db DB) *Adapter {
	return &Adapter{db: db}
}

// WithinTx runs fn in a transaction, committing when it returns nil. Calls
// made while already inside a transaction join it.
func (a *Adapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.StorageProvider) error) error {
	if a.inTx {
		return fn(ctx, a)
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	if err := fn(ctx, &Adapter{db: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}
