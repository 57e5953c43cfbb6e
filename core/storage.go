package core

import (
	"context"
	"time"
)

// CredentialStorage owns identity records and password hashes.
type CredentialStorage interface {
	CreateCredential(ctx context.Context, c *Credential) error

	// Query methods. Both return ErrNotFound when nothing matches.
	GetCredentialByID(ctx context.Context, id string) (*Credential, error)
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)

	// UpdateCredentialHash swaps oldHash for newHash in one conditional
	// write. It returns ErrCredentialChanged when no credential with id
	// still holds oldHash.
	UpdateCredentialHash(ctx context.Context, id, oldHash, newHash string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	// DeleteCredential removes the record and, by cascade, its sessions and history.
	DeleteCredential(ctx context.Context, id string) (bool, error)
}

// PasswordHistoryStorage keeps superseded hashes per credential.
type PasswordHistoryStorage interface {
	// AppendPasswordHistory stores entry and prunes the credential's history
	// down to the most recent keep entries.
	AppendPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry, keep int) error
	// ListPasswordHistory returns up to limit entries, newest first.
	ListPasswordHistory(ctx context.Context, credentialID string, limit int) ([]*PasswordHistoryEntry, error)
}

// SessionStorage persists sessions keyed by token hash.
//
// Methods that take now evaluate "usable" as active AND now < expires_at
// inside the store so a single statement decides admission.
type SessionStorage interface {
	CreateSession(ctx context.Context, session *Session) error

	// Query methods. A missing row is (nil, nil); errors are reserved for failures.
	GetSessionByHash(ctx context.Context, tokenHash string) (*Session, error)
	GetUsableSessionWithCredential(ctx context.Context, tokenHash string, now time.Time) (*Session, *Credential, error)
	ListUsableSessions(ctx context.Context, credentialID string, now time.Time) ([]*Session, error)

	// Update methods return (nil, nil) when the session is not usable.
	TouchSession(ctx context.Context, tokenHash string, now time.Time) (*Session, error)
	ExtendSession(ctx context.Context, tokenHash string, expiresAt, now time.Time) (*Session, error)

	// Invalidation flips active to false and never deletes.
	DeactivateSession(ctx context.Context, tokenHash string) (bool, error)
	DeactivateCredentialSessions(ctx context.Context, credentialID, exceptTokenHash string) (int, error)

	// Cleanup
	DeleteReapableSessions(ctx context.Context, now time.Time) (int, error)
	SessionStats(ctx context.Context, now time.Time) (SessionStats, error)
}

// StorageProvider is everything the auth core needs from the backing store.
type StorageProvider interface {
	CredentialStorage
	PasswordHistoryStorage
	SessionStorage

	// WithinTx runs fn against a transactional view of the store. fn's
	// mutations commit together or not at all.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx StorageProvider) error) error
}
