package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/ApexAZ/zentropy-sub008/core"
)

const credentialColumns = `id, email, password_hash, role, active, last_login_at, created_at, updated_at`

func (a *Adapter) CreateCredential(ctx context.Context, c *core.Credential) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Email, c.PasswordHash, string(c.Role), c.Active, c.LastLoginAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("CREDENTIAL_CONFLICT").With("email", c.Email).Wrap(core.ErrConflict)
		}
		return oops.Code("CREDENTIAL_CREATE_FAILED").
			With("operation", "insert credential").
			With("credential_id", c.ID).
			Wrap(err)
	}
	return nil
}

func (a *Adapter) GetCredentialByID(ctx context.Context, id string) (*core.Credential, error) {
	row := a.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)

	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("credential_id", id).Wrap(core.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_FAILED").With("credential_id", id).Wrap(err)
	}
	return c, nil
}

// GetCredentialByEmail matches case-insensitively, backed by the
// lower(email) unique index.
func (a *Adapter) GetCredentialByEmail(ctx context.Context, email string) (*core.Credential, error) {
	row := a.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE lower(email) = lower($1)`, email)

	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(core.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_FAILED").With("operation", "get credential by email").Wrap(err)
	}
	return c, nil
}

func (a *Adapter) UpdateCredentialHash(ctx context.Context, id, oldHash, newHash string) error {
	tag, err := a.db.Exec(ctx,
		`UPDATE credentials SET password_hash = $3, updated_at = now() WHERE id = $1 AND password_hash = $2`,
		id, oldHash, newHash)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").With("credential_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_HASH_CHANGED").With("credential_id", id).Wrap(core.ErrCredentialChanged)
	}
	return nil
}

func (a *Adapter) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := a.db.Exec(ctx, `UPDATE credentials SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return oops.Code("CREDENTIAL_TOUCH_FAILED").With("credential_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("credential_id", id).Wrap(core.ErrNotFound)
	}
	return nil
}

// DeleteCredential removes the credential; sessions and history go with it
// through ON DELETE CASCADE.
func (a *Adapter) DeleteCredential(ctx context.Context, id string) (bool, error) {
	tag, err := a.db.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return false, oops.Code("CREDENTIAL_DELETE_FAILED").With("credential_id", id).Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanCredential(row pgx.Row) (*core.Credential, error) {
	var (
		c    core.Credential
		role string
	)
	err := row.Scan(&c.ID, &c.Email, &c.PasswordHash, &role, &c.Active, &c.LastLoginAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Role = core.Role(role)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
