package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/crypto"
)

// SessionManager owns the session token lifecycle. Storage errors are
// returned as-is; a missing or unusable session is (nil, nil).
type SessionManager struct {
	config  core.SessionConfig
	storage core.SessionStorage
	now     func() time.Time
}

func NewSessionManager(config core.SessionConfig, storage core.SessionStorage) *SessionManager {
	if config.TTL <= 0 {
		config.TTL = core.DefaultSessionConfig().TTL
	}
	return &SessionManager{config: config, storage: storage, now: time.Now}
}

// WithStorage returns a manager sharing this one's config and clock but
// bound to storage, typically a transaction.
func (sm *SessionManager) WithStorage(storage core.SessionStorage) *SessionManager {
	return &SessionManager{config: sm.config, storage: storage, now: sm.now}
}

// TTL is the lifetime given to sessions created without an explicit one.
func (sm *SessionManager) TTL() time.Duration { return sm.config.TTL }

// Create issues a new session. A ttl of zero means the configured default.
func (sm *SessionManager) Create(ctx context.Context, credentialID string, ttl time.Duration, meta core.SessionMetadata) (*core.CreateSessionResult, error) {
	if ttl <= 0 {
		ttl = sm.config.TTL
	}

	pair, err := crypto.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := sm.now()
	session := &core.Session{
		ID:             ulid.Make().String(),
		CredentialID:   credentialID,
		TokenHash:      pair.Hash,
		Active:         true,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := sm.storage.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &core.CreateSessionResult{Session: session, Token: pair.Token}, nil
}

// FindActive is the admission predicate: active AND not yet expired.
func (sm *SessionManager) FindActive(ctx context.Context, token string) (*core.Session, error) {
	if !crypto.WellFormedToken(token) {
		return nil, nil
	}

	session, err := sm.storage.GetSessionByHash(ctx, crypto.HashToken(token))
	if err != nil {
		return nil, err
	}
	if !session.UsableAt(sm.now()) {
		return nil, nil
	}
	return session, nil
}

// FindActiveWithPrincipal resolves the session and its owner in one round trip.
func (sm *SessionManager) FindActiveWithPrincipal(ctx context.Context, token string) (*core.SessionData, error) {
	if !crypto.WellFormedToken(token) {
		return nil, nil
	}

	now := sm.now()
	session, credential, err := sm.storage.GetUsableSessionWithCredential(ctx, crypto.HashToken(token), now)
	if err != nil {
		return nil, err
	}
	// usability is checked here as well as in the store
	if session == nil || credential == nil || !session.UsableAt(now) || !credential.Active {
		return nil, nil
	}

	return &core.SessionData{Principal: credential.Principal(), Session: session}, nil
}

// ListActive returns the usable sessions of a credential, newest first.
func (sm *SessionManager) ListActive(ctx context.Context, credentialID string) ([]*core.Session, error) {
	return sm.storage.ListUsableSessions(ctx, credentialID, sm.now())
}

func (sm *SessionManager) TouchActivity(ctx context.Context, token string) (*core.Session, error) {
	if !crypto.WellFormedToken(token) {
		return nil, nil
	}
	return sm.storage.TouchSession(ctx, crypto.HashToken(token), sm.now())
}

// Invalidate deactivates the session. It returns false, without error, when
// the session was already inactive or never existed.
func (sm *SessionManager) Invalidate(ctx context.Context, token string) (bool, error) {
	if !crypto.WellFormedToken(token) {
		return false, nil
	}
	return sm.storage.DeactivateSession(ctx, crypto.HashToken(token))
}

// InvalidateAll signs a credential out everywhere.
func (sm *SessionManager) InvalidateAll(ctx context.Context, credentialID string) (int, error) {
	return sm.storage.DeactivateCredentialSessions(ctx, credentialID, "")
}

// InvalidateOthers signs out every session of the credential except keepToken's.
func (sm *SessionManager) InvalidateOthers(ctx context.Context, credentialID, keepToken string) (int, error) {
	return sm.storage.DeactivateCredentialSessions(ctx, credentialID, crypto.HashToken(keepToken))
}

// Extend sets expires_at to now + d. It does not add to the old expiry.
func (sm *SessionManager) Extend(ctx context.Context, token string, d time.Duration) (*core.Session, error) {
	if !crypto.WellFormedToken(token) {
		return nil, nil
	}
	if d <= 0 {
		d = sm.config.TTL
	}
	now := sm.now()
	return sm.storage.ExtendSession(ctx, crypto.HashToken(token), now.Add(d), now)
}

// Reap deletes sessions that are inactive or expired. Pure storage
// reclamation; admission never depends on it having run.
func (sm *SessionManager) Reap(ctx context.Context) (int, error) {
	return sm.storage.DeleteReapableSessions(ctx, sm.now())
}

func (sm *SessionManager) Stats(ctx context.Context) (core.SessionStats, error) {
	return sm.storage.SessionStats(ctx, sm.now())
}
