package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/errutil"
)

var _ core.AuthProvider = (*AuthService)(nil)

// dummyPassword is verified against a throwaway hash when the account does
// not exist, so unknown and known emails cost the same argon2 work.
const dummyPassword = "zentropy-timing-equalizer"

type AuthConfig struct {
	// InvalidateOthersOnPasswordChange signs out every other device after a
	// successful password change. The current session is always kept.
	InvalidateOthersOnPasswordChange bool
	// OperationTimeout bounds each gateway call's storage work.
	OperationTimeout time.Duration
}

type AuthOptions struct {
	Config  AuthConfig
	Metrics *Metrics
	Logger  *slog.Logger
}

// AuthService orchestrates login, admission, logout and password changes.
type AuthService struct {
	storage   core.StorageProvider
	sessions  *SessionManager
	policy    *PasswordPolicy
	limiter   *RateLimiter
	config    AuthConfig
	metrics   *Metrics
	logger    *slog.Logger
	dummyHash string
	now       func() time.Time
}

func NewAuthService(storage core.StorageProvider, sessions *SessionManager, policy *PasswordPolicy, limiter *RateLimiter, opts AuthOptions) (*AuthService, error) {
	if storage == nil {
		return nil, core.ErrStorageRequired
	}
	if sessions == nil || policy == nil || limiter == nil {
		return nil, fmt.Errorf("%w: sessions, policy and limiter are required", core.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.OperationTimeout <= 0 {
		opts.Config.OperationTimeout = 5 * time.Second
	}

	dummyHash, err := policy.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		storage:   storage,
		sessions:  sessions,
		policy:    policy,
		limiter:   limiter,
		config:    opts.Config,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		dummyHash: dummyHash,
		now:       time.Now,
	}, nil
}

func (s *AuthService) SessionTTL() time.Duration { return s.sessions.TTL() }

// CheckRequest applies the general per-address ceiling.
func (s *AuthService) CheckRequest(ctx context.Context, client core.ClientInfo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.enforce(ctx, core.ActionGeneralAPI, core.Dimensions{IP: client.IP})
}

// Register creates a credential and signs it in
func (s *AuthService) Register(ctx context.Context, input core.RegisterInput, client core.ClientInfo) (*core.LoginResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Step 1: Throttle bulk registration per address
	if err := s.enforce(ctx, core.ActionAccountCreation, core.Dimensions{IP: client.IP}); err != nil {
		return nil, err
	}

	// Step 2: Validate input
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", core.ErrInvalidInput)
	}
	if !validEmail(email) {
		return nil, core.ErrInvalidEmail
	}
	role := input.Role
	if role == "" {
		role = core.RoleMember
	}
	if !role.Valid() {
		return nil, core.ErrInvalidRole
	}
	if err := s.policy.ValidateStrength(input.Password); err != nil {
		return nil, err
	}

	// Step 3: Advisory duplicate check before paying for a hash.
	// The store's unique index remains the authority.
	if _, err := s.storage.GetCredentialByEmail(ctx, email); err == nil {
		return nil, core.ErrConflict
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, s.fail(ctx, "register lookup", err)
	}

	// Step 4: Hash and create
	hash, err := s.policy.Hash(input.Password)
	if err != nil {
		return nil, s.fail(ctx, "register hash", err)
	}

	now := s.now()
	credential := &core.Credential{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.CreateCredential(ctx, credential); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, core.ErrConflict
		}
		return nil, s.fail(ctx, "register create", err)
	}

	s.logger.InfoContext(ctx, "credential registered", "credential_id", credential.ID, "role", role)

	// Step 5: First session
	return s.issueSession(ctx, credential, client)
}

// Login verifies credentials and issues a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, input core.LoginInput, client core.ClientInfo) (*core.LoginResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	email := normalizeEmail(input.Email)

	// Step 1: Throttle per address and identifier
	if err := s.enforce(ctx, core.ActionLogin, core.Dimensions{IP: client.IP, Identifier: email}); err != nil {
		if errors.Is(err, core.ErrTooManyAttempts) {
			s.metrics.login("rate_limited")
		}
		return nil, err
	}

	// Step 2: Find the credential
	credential, err := s.storage.GetCredentialByEmail(ctx, email)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, s.fail(ctx, "login lookup", err)
	}

	// Step 3: Verify the password
	if credential == nil || !credential.Active {
		_, _ = s.policy.Verify(input.Password, s.dummyHash)
		s.metrics.login("invalid")
		return nil, core.ErrInvalidCredentials
	}

	ok, err := s.policy.Verify(input.Password, credential.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable", "credential_id", credential.ID, "error", err)
	}
	if !ok {
		s.metrics.login("invalid")
		return nil, core.ErrInvalidCredentials
	}

	// Step 4: Session and last-login stamp
	result, err := s.issueSession(ctx, credential, client)
	if err != nil {
		return nil, err
	}

	if s.policy.NeedsRehash(credential.PasswordHash) {
		s.rehash(ctx, credential.ID, credential.PasswordHash, input.Password)
	}

	s.metrics.login("success")
	return result, nil
}

// Authenticate admits a request carrying token and refreshes its activity.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*core.SessionData, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if token == "" {
		return nil, core.ErrAuthenticationRequired
	}

	data, err := s.sessions.FindActiveWithPrincipal(ctx, token)
	if err != nil {
		return nil, s.fail(ctx, "session lookup", err)
	}
	if data == nil {
		return nil, core.ErrInvalidSession
	}

	touched, err := s.sessions.TouchActivity(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to refresh session activity", "session_id", data.Session.ID, "error", err)
	} else if touched != nil {
		data.Session = touched
	}

	return data, nil
}

// Logout invalidates the session behind token if there is one. It never
// fails from the caller's point of view.
func (s *AuthService) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.sessions.Invalidate(ctx, token); err != nil {
		errutil.LogError(ctx, s.logger, "logout failed to invalidate session", err)
	}
}

// Refresh pushes the session's expiry to now + TTL.
func (s *AuthService) Refresh(ctx context.Context, token string) (*core.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if token == "" {
		return nil, core.ErrAuthenticationRequired
	}

	session, err := s.sessions.Extend(ctx, token, s.sessions.TTL())
	if err != nil {
		return nil, s.fail(ctx, "session extend", err)
	}
	if session == nil {
		return nil, core.ErrInvalidSession
	}
	return session, nil
}

// ChangePassword replaces the credential's password. The hash update,
// history entry and last-login stamp commit together.
func (s *AuthService) ChangePassword(ctx context.Context, current *core.SessionData, token string, input core.ChangePasswordInput, client core.ClientInfo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if current == nil || current.Principal == nil {
		return core.ErrAuthenticationRequired
	}
	if input.CurrentPassword == "" || input.NewPassword == "" {
		return fmt.Errorf("%w: current and new password are required", core.ErrInvalidInput)
	}

	credentialID := current.Principal.ID

	// Step 1: Throttle per address and account
	if err := s.enforce(ctx, core.ActionPasswordUpdate, core.Dimensions{IP: client.IP, AccountID: credentialID}); err != nil {
		return err
	}

	// Step 2: Re-verify the current password
	credential, err := s.storage.GetCredentialByID(ctx, credentialID)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidSession
	}
	if err != nil {
		return s.fail(ctx, "password change lookup", err)
	}

	ok, err := s.policy.Verify(input.CurrentPassword, credential.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable", "credential_id", credentialID, "error", err)
	}
	if !ok {
		s.metrics.passwordChange("wrong_current")
		return core.ErrInvalidCurrentPassword
	}

	// Step 3: Policy
	if err := s.policy.ValidateStrength(input.NewPassword); err != nil {
		s.metrics.passwordChange("policy")
		return err
	}
	if same, _ := s.policy.Verify(input.NewPassword, credential.PasswordHash); same {
		s.metrics.passwordChange("policy")
		return &core.PolicyViolationError{Reason: core.ReasonReused}
	}
	if err := s.policy.CheckHistory(ctx, credentialID, input.NewPassword); err != nil {
		if errors.Is(err, core.ErrPolicyViolation) {
			s.metrics.passwordChange("policy")
			return err
		}
		return s.fail(ctx, "password history", err)
	}

	// Step 4: Commit
	newHash, err := s.policy.Hash(input.NewPassword)
	if err != nil {
		return s.fail(ctx, "password hash", err)
	}

	now := s.now()
	historySize := s.policy.Config().HistorySize
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx core.StorageProvider) error {
		if err := tx.UpdateCredentialHash(ctx, credentialID, credential.PasswordHash, newHash); err != nil {
			return err
		}
		if historySize > 0 {
			entry := &core.PasswordHistoryEntry{
				ID:           ulid.Make().String(),
				CredentialID: credentialID,
				PasswordHash: credential.PasswordHash,
				SupersededAt: now,
			}
			if err := tx.AppendPasswordHistory(ctx, entry, historySize); err != nil {
				return err
			}
		}
		return tx.TouchLastLogin(ctx, credentialID, now)
	})
	if errors.Is(err, core.ErrCredentialChanged) {
		// Another change landed after verification; the caller's current
		// password is no longer the stored one.
		s.metrics.passwordChange("wrong_current")
		return core.ErrInvalidCurrentPassword
	}
	if err != nil {
		s.metrics.passwordChange("error")
		return s.fail(ctx, "password change commit", err, "credential_id", credentialID)
	}

	// Step 5: Keep this device signed in; optionally sign out the rest
	if _, err := s.sessions.TouchActivity(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "failed to refresh session after password change", "credential_id", credentialID, "error", err)
	}
	if input.SignOutOthers || s.config.InvalidateOthersOnPasswordChange {
		n, err := s.sessions.InvalidateOthers(ctx, credentialID, token)
		if err != nil {
			errutil.LogError(ctx, s.logger, "failed to sign out other sessions", err, "credential_id", credentialID)
		} else {
			s.logger.InfoContext(ctx, "signed out other sessions", "credential_id", credentialID, "count", n)
		}
	}

	s.metrics.passwordChange("success")
	s.logger.InfoContext(ctx, "password changed", "credential_id", credentialID)
	return nil
}

// ListDevices returns the caller's active sessions, newest first.
func (s *AuthService) ListDevices(ctx context.Context, current *core.SessionData) ([]*core.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if current == nil || current.Principal == nil {
		return nil, core.ErrAuthenticationRequired
	}
	sessions, err := s.sessions.ListActive(ctx, current.Principal.ID)
	if err != nil {
		return nil, s.fail(ctx, "list sessions", err)
	}
	return sessions, nil
}

// SignOutEverywhere invalidates every session of the caller, the current one included.
func (s *AuthService) SignOutEverywhere(ctx context.Context, current *core.SessionData) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if current == nil || current.Principal == nil {
		return 0, core.ErrAuthenticationRequired
	}
	n, err := s.sessions.InvalidateAll(ctx, current.Principal.ID)
	if err != nil {
		return 0, s.fail(ctx, "sign out everywhere", err)
	}
	s.logger.InfoContext(ctx, "signed out everywhere", "credential_id", current.Principal.ID, "count", n)
	return n, nil
}

// DeleteAccount removes the caller's credential after re-verifying the
// password. Sessions and history go with it.
func (s *AuthService) DeleteAccount(ctx context.Context, current *core.SessionData, input core.DeleteAccountInput) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if current == nil || current.Principal == nil {
		return core.ErrAuthenticationRequired
	}
	if input.Password == "" {
		return fmt.Errorf("%w: password is required", core.ErrInvalidInput)
	}

	credential, err := s.storage.GetCredentialByID(ctx, current.Principal.ID)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return s.fail(ctx, "delete account lookup", err)
	}
	if ok, _ := s.policy.Verify(input.Password, credential.PasswordHash); !ok {
		return core.ErrInvalidCurrentPassword
	}

	deleted, err := s.storage.DeleteCredential(ctx, credential.ID)
	if err != nil {
		return s.fail(ctx, "delete account", err, "credential_id", credential.ID)
	}
	if !deleted {
		return core.ErrNotFound
	}

	s.logger.InfoContext(ctx, "credential deleted", "credential_id", credential.ID)
	return nil
}

// issueSession creates the session and stamps last login in one transaction.
func (s *AuthService) issueSession(ctx context.Context, credential *core.Credential, client core.ClientInfo) (*core.LoginResult, error) {
	now := s.now()
	var created *core.CreateSessionResult

	err := s.storage.WithinTx(ctx, func(ctx context.Context, tx core.StorageProvider) error {
		var err error
		created, err = s.sessions.WithStorage(tx).Create(ctx, credential.ID, 0, core.SessionMetadata{
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
		if err != nil {
			return err
		}
		return tx.TouchLastLogin(ctx, credential.ID, now)
	})
	if err != nil {
		return nil, s.fail(ctx, "issue session", err, "credential_id", credential.ID)
	}

	credential.LastLoginAt = &now
	return &core.LoginResult{
		Principal: credential.Principal(),
		Session:   created.Session,
		Token:     created.Token,
	}, nil
}

// rehash upgrades a hash made with older parameters. Losing the race to a
// concurrent password change is fine; the newer hash wins.
func (s *AuthService) rehash(ctx context.Context, credentialID, oldHash, password string) {
	hash, err := s.policy.Hash(password)
	if err == nil {
		err = s.storage.UpdateCredentialHash(ctx, credentialID, oldHash, hash)
	}
	if errors.Is(err, core.ErrCredentialChanged) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash", "credential_id", credentialID, "error", err)
	}
}

// enforce lets rate-limit denials through unchanged and turns backend
// failures into opaque errors.
func (s *AuthService) enforce(ctx context.Context, action core.Action, dims core.Dimensions) error {
	err := s.limiter.Enforce(ctx, action, dims)
	if err == nil || errors.Is(err, core.ErrTooManyAttempts) {
		return err
	}
	return s.fail(ctx, "rate limit check", err, "action", action)
}

// fail logs err with full detail and returns what the caller may see.
func (s *AuthService) fail(ctx context.Context, op string, err error, attrs ...any) error {
	attrs = append(attrs, "op", op)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "auth operation timed out", append(attrs, "error", err)...)
		return core.ErrUnavailable
	}
	errutil.LogError(ctx, s.logger, "auth operation failed", err, attrs...)
	return core.ErrInternal
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}
