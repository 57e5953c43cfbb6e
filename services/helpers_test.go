package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/cache"
	"github.com/ApexAZ/zentropy-sub008/pkg/crypto"
)

const (
	testPassword    = "Str0ng!Pass"
	testNewPassword = "N3w!Password"
	testIP          = "203.0.113.7"
	testAgent       = "test-agent"
)

var testClient = core.ClientInfo{IP: testIP, UserAgent: testAgent}

// testHasher uses cheap argon2 parameters so tests stay fast.
func testHasher() *crypto.Argon2 {
	return &crypto.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	auth     *AuthService
	storage  *FakeStorageProvider
	sessions *SessionManager
	policy   *PasswordPolicy
	limiter  *RateLimiter
	counters *cache.MemoryCounterStore
	metrics  *Metrics
	clock    *fakeClock
}

type testEnvOptions struct {
	config     AuthConfig
	rateLimits map[core.Action]core.RateLimitRule
	password   core.PasswordConfig
	// counterStore replaces the in-memory counters when set.
	counterStore core.CounterStore
	// wrapStorage decorates the storage the AuthService sees.
	wrapStorage func(*FakeStorageProvider) core.StorageProvider
}

func newTestEnv(t *testing.T, opts testEnvOptions) *testEnv {
	t.Helper()

	clock := newFakeClock()
	storage := NewFakeStorageProvider()
	metrics := NewMetrics(nil)

	sessions := NewSessionManager(core.SessionConfig{TTL: 24 * time.Hour}, storage)
	sessions.now = clock.Now

	if opts.password == (core.PasswordConfig{}) {
		opts.password = core.DefaultPasswordConfig()
	}
	policy := NewPasswordPolicy(opts.password, testHasher(), storage)

	counters := cache.NewMemoryCounterStore(cache.MemoryCounterConfig{Now: clock.Now})
	var counterStore core.CounterStore = counters
	if opts.counterStore != nil {
		counterStore = opts.counterStore
	}
	limiter, err := NewRateLimiter(core.RateLimitConfig{Rules: opts.rateLimits}, counterStore, metrics, discardLogger())
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	var authStorage core.StorageProvider = storage
	if opts.wrapStorage != nil {
		authStorage = opts.wrapStorage(storage)
	}
	auth, err := NewAuthService(authStorage, sessions, policy, limiter, AuthOptions{
		Config:  opts.config,
		Metrics: metrics,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}
	auth.now = clock.Now

	return &testEnv{
		auth:     auth,
		storage:  storage,
		sessions: sessions,
		policy:   policy,
		limiter:  limiter,
		counters: counters,
		metrics:  metrics,
		clock:    clock,
	}
}

// seedCredential stores an active credential with password hashed by the
// env's policy.
func (e *testEnv) seedCredential(t *testing.T, email, password string) *core.Credential {
	t.Helper()

	hash, err := e.policy.Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	now := e.clock.Now()
	c := &core.Credential{
		ID:           "cred-" + email,
		Email:        email,
		PasswordHash: hash,
		Role:         core.RoleMember,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.storage.CreateCredential(context.Background(), c); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}
	return c
}

// login signs email in from client and fails the test on error.
func (e *testEnv) login(t *testing.T, email, password string, client core.ClientInfo) *core.LoginResult {
	t.Helper()

	result, err := e.auth.Login(context.Background(), core.LoginInput{Email: email, Password: password}, client)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return result
}
