package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/ApexAZ/zentropy-sub008/core"
)

const sessionColumns = `id, credential_id, token_hash, active, ip_address, user_agent, created_at, last_activity_at, expires_at`

func (a *Adapter) CreateSession(ctx context.Context, s *core.Session) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.CredentialID, s.TokenHash, s.Active, s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActivityAt, s.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SESSION_CONFLICT").With("session_id", s.ID).Wrap(core.ErrConflict)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("credential_id", s.CredentialID).
			Wrap(err)
	}
	return nil
}

// GetSessionByHash returns the row whatever its state, or nil if absent.
func (a *Adapter) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	row := a.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").With("operation", "get session by token hash").Wrap(err)
	}
	return s, nil
}

// GetUsableSessionWithCredential joins a usable session to its active
// credential in one round trip.
func (a *Adapter) GetUsableSessionWithCredential(ctx context.Context, tokenHash string, now time.Time) (*core.Session, *core.Credential, error) {
	row := a.db.QueryRow(ctx, `
		SELECT s.id, s.credential_id, s.token_hash, s.active, s.ip_address, s.user_agent,
		       s.created_at, s.last_activity_at, s.expires_at,
		       c.id, c.email, c.password_hash, c.role, c.active, c.last_login_at, c.created_at, c.updated_at
		FROM sessions s
		JOIN credentials c ON c.id = s.credential_id
		WHERE s.token_hash = $1 AND s.active AND s.expires_at > $2 AND c.active
	`, tokenHash, now)

	var (
		s    core.Session
		c    core.Credential
		role string
	)
	err := row.Scan(
		&s.ID, &s.CredentialID, &s.TokenHash, &s.Active, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
		&c.ID, &c.Email, &c.PasswordHash, &role, &c.Active, &c.LastLoginAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, oops.Code("SESSION_ADMIT_FAILED").With("operation", "get usable session").Wrap(err)
	}
	c.Role = core.Role(role)
	return &s, &c, nil
}

func (a *Adapter) ListUsableSessions(ctx context.Context, credentialID string, now time.Time) ([]*core.Session, error) {
	rows, err := a.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE credential_id = $1 AND active AND expires_at > $2
		ORDER BY created_at DESC
	`, credentialID, now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("credential_id", credentialID).Wrap(err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").Wrap(err)
	}
	return sessions, nil
}

// TouchSession records activity on a usable session and returns it, or nil
// if the session is not usable at now.
func (a *Adapter) TouchSession(ctx context.Context, tokenHash string, now time.Time) (*core.Session, error) {
	row := a.db.QueryRow(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE token_hash = $1 AND active AND expires_at > $2
		RETURNING `+sessionColumns, tokenHash, now)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}
	return s, nil
}

// ExtendSession moves expires_at on a usable session. An expired or
// inactive session cannot be revived.
func (a *Adapter) ExtendSession(ctx context.Context, tokenHash string, expiresAt, now time.Time) (*core.Session, error) {
	row := a.db.QueryRow(ctx, `
		UPDATE sessions SET expires_at = $2, last_activity_at = $3
		WHERE token_hash = $1 AND active AND expires_at > $3
		RETURNING `+sessionColumns, tokenHash, expiresAt, now)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_EXTEND_FAILED").Wrap(err)
	}
	return s, nil
}

func (a *Adapter) DeactivateSession(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := a.db.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE token_hash = $1 AND active`, tokenHash)
	if err != nil {
		return false, oops.Code("SESSION_DEACTIVATE_FAILED").Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateCredentialSessions deactivates every active session of the
// credential except the one hashed exceptTokenHash, if given.
func (a *Adapter) DeactivateCredentialSessions(ctx context.Context, credentialID, exceptTokenHash string) (int, error) {
	tag, err := a.db.Exec(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE credential_id = $1 AND active AND token_hash <> $2
	`, credentialID, exceptTokenHash)
	if err != nil {
		return 0, oops.Code("SESSION_DEACTIVATE_ALL_FAILED").With("credential_id", credentialID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (a *Adapter) DeleteReapableSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := a.db.Exec(ctx, `DELETE FROM sessions WHERE NOT active OR expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_REAP_FAILED").Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (a *Adapter) SessionStats(ctx context.Context, now time.Time) (core.SessionStats, error) {
	var stats core.SessionStats
	err := a.db.QueryRow(ctx, `
		SELECT
		  COUNT(*) FILTER (WHERE active AND expires_at > $1),
		  COUNT(*) FILTER (WHERE expires_at <= $1),
		  COUNT(DISTINCT credential_id) FILTER (WHERE active AND expires_at > $1)
		FROM sessions
	`, now).Scan(&stats.ActiveCount, &stats.ExpiredCount, &stats.DistinctAccounts)
	if err != nil {
		return core.SessionStats{}, oops.Code("SESSION_STATS_FAILED").Wrap(err)
	}
	return stats, nil
}

func scanSession(row pgx.Row) (*core.Session, error) {
	var s core.Session
	err := row.Scan(&s.ID, &s.CredentialID, &s.TokenHash, &s.Active, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
