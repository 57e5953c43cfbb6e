package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ApexAZ/zentropy-sub008/core"
)

var _ core.StorageProvider = (*FakeStorageProvider)(nil)

// FakeStorageProvider is a test-only fake implementing core.StorageProvider.
// It keeps credentials, history and sessions in maps and exposes error fields
// for behavior injection. Returned records are copies.
type FakeStorageProvider struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	credentials map[string]*core.Credential
	history     map[string][]*core.PasswordHistoryEntry
	sessions    map[string]*core.Session

	createCredentialErr error
	getCredentialErr    error
	updateHashErr       error
	touchLoginErr       error
	appendHistoryErr    error
	createSessionErr    error
	getSessionErr       error
	touchSessionErr     error
	deactivateErr       error
}

func NewFakeStorageProvider() *FakeStorageProvider {
	return &FakeStorageProvider{
		credentials: make(map[string]*core.Credential),
		history:     make(map[string][]*core.PasswordHistoryEntry),
		sessions:    make(map[string]*core.Session),
	}
}

// CredentialStorage implementation
func (f *FakeStorageProvider) CreateCredential(_ context.Context, c *core.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCredentialErr != nil {
		return f.createCredentialErr
	}
	for _, existing := range f.credentials {
		if strings.EqualFold(existing.Email, c.Email) {
			return core.ErrConflict
		}
	}
	cp := *c
	f.credentials[c.ID] = &cp
	return nil
}

func (f *FakeStorageProvider) GetCredentialByID(_ context.Context, id string) (*core.Credential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getCredentialErr != nil {
		return nil, f.getCredentialErr
	}
	if c, ok := f.credentials[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, core.ErrNotFound
}

func (f *FakeStorageProvider) GetCredentialByEmail(_ context.Context, email string) (*core.Credential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getCredentialErr != nil {
		return nil, f.getCredentialErr
	}
	for _, c := range f.credentials {
		if strings.EqualFold(c.Email, email) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *FakeStorageProvider) UpdateCredentialHash(_ context.Context, id, oldHash, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateHashErr != nil {
		return f.updateHashErr
	}
	c, ok := f.credentials[id]
	if !ok || c.PasswordHash != oldHash {
		return core.ErrCredentialChanged
	}
	c.PasswordHash = newHash
	c.UpdatedAt = time.Now()
	return nil
}

func (f *FakeStorageProvider) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchLoginErr != nil {
		return f.touchLoginErr
	}
	c, ok := f.credentials[id]
	if !ok {
		return core.ErrNotFound
	}
	c.LastLoginAt = &at
	return nil
}

func (f *FakeStorageProvider) DeleteCredential(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.credentials[id]; !ok {
		return false, nil
	}
	delete(f.credentials, id)
	delete(f.history, id)
	for hash, s := range f.sessions {
		if s.CredentialID == id {
			delete(f.sessions, hash)
		}
	}
	return true, nil
}

// PasswordHistoryStorage implementation
func (f *FakeStorageProvider) AppendPasswordHistory(_ context.Context, entry *core.PasswordHistoryEntry, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendHistoryErr != nil {
		return f.appendHistoryErr
	}
	cp := *entry
	entries := append([]*core.PasswordHistoryEntry{&cp}, f.history[entry.CredentialID]...)
	if keep >= 0 && len(entries) > keep {
		entries = entries[:keep]
	}
	f.history[entry.CredentialID] = entries
	return nil
}

func (f *FakeStorageProvider) ListPasswordHistory(_ context.Context, credentialID string, limit int) ([]*core.PasswordHistoryEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries := f.history[credentialID]
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*core.PasswordHistoryEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// SessionStorage implementation
func (f *FakeStorageProvider) CreateSession(_ context.Context, s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createSessionErr != nil {
		return f.createSessionErr
	}
	if _, exists := f.sessions[s.TokenHash]; exists {
		return core.ErrConflict
	}
	cp := *s
	f.sessions[s.TokenHash] = &cp
	return nil
}

func (f *FakeStorageProvider) GetSessionByHash(_ context.Context, tokenHash string) (*core.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	s, ok := f.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *FakeStorageProvider) GetUsableSessionWithCredential(_ context.Context, tokenHash string, now time.Time) (*core.Session, *core.Credential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getSessionErr != nil {
		return nil, nil, f.getSessionErr
	}
	s, ok := f.sessions[tokenHash]
	if !ok || !s.UsableAt(now) {
		return nil, nil, nil
	}
	c, ok := f.credentials[s.CredentialID]
	if !ok {
		return nil, nil, nil
	}
	sc, cc := *s, *c
	return &sc, &cc, nil
}

func (f *FakeStorageProvider) ListUsableSessions(_ context.Context, credentialID string, now time.Time) ([]*core.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*core.Session
	for _, s := range f.sessions {
		if s.CredentialID == credentialID && s.UsableAt(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *FakeStorageProvider) TouchSession(_ context.Context, tokenHash string, now time.Time) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchSessionErr != nil {
		return nil, f.touchSessionErr
	}
	s, ok := f.sessions[tokenHash]
	if !ok || !s.UsableAt(now) {
		return nil, nil
	}
	s.LastActivityAt = now
	cp := *s
	return &cp, nil
}

func (f *FakeStorageProvider) ExtendSession(_ context.Context, tokenHash string, expiresAt, now time.Time) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[tokenHash]
	if !ok || !s.UsableAt(now) {
		return nil, nil
	}
	s.ExpiresAt = expiresAt
	s.LastActivityAt = now
	cp := *s
	return &cp, nil
}

func (f *FakeStorageProvider) DeactivateSession(_ context.Context, tokenHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return false, f.deactivateErr
	}
	s, ok := f.sessions[tokenHash]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	return true, nil
}

func (f *FakeStorageProvider) DeactivateCredentialSessions(_ context.Context, credentialID, exceptTokenHash string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return 0, f.deactivateErr
	}
	count := 0
	for hash, s := range f.sessions {
		if s.CredentialID == credentialID && s.Active && hash != exceptTokenHash {
			s.Active = false
			count++
		}
	}
	return count, nil
}

func (f *FakeStorageProvider) DeleteReapableSessions(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for hash, s := range f.sessions {
		if !s.UsableAt(now) {
			delete(f.sessions, hash)
			count++
		}
	}
	return count, nil
}

func (f *FakeStorageProvider) SessionStats(_ context.Context, now time.Time) (core.SessionStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var stats core.SessionStats
	accounts := make(map[string]struct{})
	for _, s := range f.sessions {
		switch {
		case s.UsableAt(now):
			stats.ActiveCount++
			accounts[s.CredentialID] = struct{}{}
		case !now.Before(s.ExpiresAt):
			stats.ExpiredCount++
		}
	}
	stats.DistinctAccounts = int64(len(accounts))
	return stats, nil
}

// WithinTx serializes transactions and restores the previous state when fn fails.
func (f *FakeStorageProvider) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.StorageProvider) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	snapshot := f.snapshot()
	if err := fn(ctx, f); err != nil {
		f.restore(snapshot)
		return err
	}
	return nil
}

type fakeState struct {
	credentials map[string]core.Credential
	history     map[string][]*core.PasswordHistoryEntry
	sessions    map[string]core.Session
}

func (f *FakeStorageProvider) snapshot() fakeState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st := fakeState{
		credentials: make(map[string]core.Credential, len(f.credentials)),
		history:     make(map[string][]*core.PasswordHistoryEntry, len(f.history)),
		sessions:    make(map[string]core.Session, len(f.sessions)),
	}
	for k, v := range f.credentials {
		st.credentials[k] = *v
	}
	for k, v := range f.history {
		st.history[k] = append([]*core.PasswordHistoryEntry(nil), v...)
	}
	for k, v := range f.sessions {
		st.sessions[k] = *v
	}
	return st
}

func (f *FakeStorageProvider) restore(st fakeState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = make(map[string]*core.Credential, len(st.credentials))
	for k, v := range st.credentials {
		v := v
		f.credentials[k] = &v
	}
	f.history = st.history
	f.sessions = make(map[string]*core.Session, len(st.sessions))
	for k, v := range st.sessions {
		v := v
		f.sessions[k] = &v
	}
}

// SessionCount reports how many session rows exist, reapable ones included.
func (f *FakeStorageProvider) SessionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sessions)
}
