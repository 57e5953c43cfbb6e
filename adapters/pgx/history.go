package pgx

import (
	"context"

	"github.com/samber/oops"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// AppendPasswordHistory records a superseded hash and prunes the
// credential's history to the keep most recent entries.
func (a *Adapter) AppendPasswordHistory(ctx context.Context, entry *core.PasswordHistoryEntry, keep int) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO password_history (id, credential_id, password_hash, superseded_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.CredentialID, entry.PasswordHash, entry.SupersededAt)
	if err != nil {
		return oops.Code("PASSWORD_HISTORY_APPEND_FAILED").With("credential_id", entry.CredentialID).Wrap(err)
	}

	if keep < 0 {
		return nil
	}

	_, err = a.db.Exec(ctx, `
		DELETE FROM password_history
		WHERE credential_id = $1
		  AND id NOT IN (
		    SELECT id FROM password_history
		    WHERE credential_id = $1
		    ORDER BY superseded_at DESC, id DESC
		    LIMIT $2
		  )
	`, entry.CredentialID, keep)
	if err != nil {
		return oops.Code("PASSWORD_HISTORY_PRUNE_FAILED").With("credential_id", entry.CredentialID).Wrap(err)
	}
	return nil
}

// ListPasswordHistory returns up to limit entries, newest first.
func (a *Adapter) ListPasswordHistory(ctx context.Context, credentialID string, limit int) ([]*core.PasswordHistoryEntry, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id, credential_id, password_hash, superseded_at
		FROM password_history
		WHERE credential_id = $1
		ORDER BY superseded_at DESC, id DESC
		LIMIT $2
	`, credentialID, limit)
	if err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_LIST_FAILED").With("credential_id", credentialID).Wrap(err)
	}
	defer rows.Close()

	var entries []*core.PasswordHistoryEntry
	for rows.Next() {
		var e core.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.PasswordHash, &e.SupersededAt); err != nil {
			return nil, oops.Code("PASSWORD_HISTORY_SCAN_FAILED").Wrap(err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_ROWS_ERROR").Wrap(err)
	}
	return entries, nil
}
