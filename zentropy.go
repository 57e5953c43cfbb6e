// Package zentropy wires the session authentication core: credential and
// session storage, the password policy, rate limiting and the HTTP surface.
package zentropy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/cache"
	"github.com/ApexAZ/zentropy-sub008/pkg/crypto"
	"github.com/ApexAZ/zentropy-sub008/services"
)

// interfaces
type (
	StorageProvider  = core.StorageProvider
	CounterStore     = core.CounterStore
	HTTPAdapter      = core.HTTPAdapter
	AuthProvider     = core.AuthProvider
	EndpointProvider = core.EndpointProvider

	PasswordHasher = services.PasswordHasher
)

// structs
type (
	SessionConfig   = core.SessionConfig
	PasswordConfig  = core.PasswordConfig
	RateLimitConfig = core.RateLimitConfig
	RateLimitRule   = core.RateLimitRule
)

type (
	Credential  = core.Credential
	Principal   = core.Principal
	Session     = core.Session
	SessionData = core.SessionData
	Role        = core.Role
	Action      = core.Action
)

const (
	RoleLead   = core.RoleLead
	RoleMember = core.RoleMember

	defaultBasePath = "/api/auth"
)

var (
	DefaultSessionConfig   = core.DefaultSessionConfig
	DefaultPasswordConfig  = core.DefaultPasswordConfig
	DefaultRateLimitConfig = core.DefaultRateLimitConfig
	NewArgon2              = crypto.NewArgon2
)

var (
	ErrInvalidCredentials     = core.ErrInvalidCredentials
	ErrInvalidCurrentPassword = core.ErrInvalidCurrentPassword
	ErrConflict               = core.ErrConflict
	ErrUnauthenticated        = core.ErrUnauthenticated
	ErrAuthenticationRequired = core.ErrAuthenticationRequired
	ErrInvalidSession         = core.ErrInvalidSession
	ErrTooManyAttempts        = core.ErrTooManyAttempts
	ErrPolicyViolation        = core.ErrPolicyViolation
)

var (
	ErrStorageRequired     = core.ErrStorageRequired
	ErrHTTPAdapterRequired = core.ErrHTTPAdapterRequired
	ErrInvalidConfig       = core.ErrInvalidConfig
)

type Config struct {
	Storage StorageProvider
	HTTP    HTTPAdapter

	// Counters backs the rate limiter. Defaults to a process-local store,
	// which is only correct for a single instance.
	Counters       CounterStore
	PasswordHasher PasswordHasher

	Session    *SessionConfig
	Password   *PasswordConfig
	RateLimits *RateLimitConfig

	InvalidateOthersOnPasswordChange bool

	BasePath string
	Plugins  []EndpointProvider

	// Registerer receives the auth metrics; nil disables them.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Zentropy is a wired auth core. Auth is what HTTP adapters talk to; Reaper
// must be started by the host with Reaper.Run.
type Zentropy struct {
	Auth     *services.AuthService
	Sessions *services.SessionManager
	Policy   *services.PasswordPolicy
	Limiter  *services.RateLimiter
	Reaper   *services.Reaper
	Metrics  *services.Metrics
	Registry *services.EndpointRegistry
	BasePath string
}

func New(config Config) (*Zentropy, error) {
	if config.Storage == nil {
		return nil, ErrStorageRequired
	}
	if config.HTTP == nil {
		return nil, ErrHTTPAdapterRequired
	}

	// Set Defaults

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	counters := config.Counters
	if counters == nil {
		counters = cache.NewMemoryCounterStore(cache.MemoryCounterConfig{})
	}

	passwordHasher := config.PasswordHasher
	if passwordHasher == nil {
		passwordHasher = crypto.NewArgon2()
	}

	sessionConfig := core.DefaultSessionConfig()
	if config.Session != nil {
		sessionConfig = *config.Session
	}
	if sessionConfig.TTL < 0 || sessionConfig.ReapInterval < 0 {
		return nil, fmt.Errorf("%w: session durations must not be negative", ErrInvalidConfig)
	}

	passwordConfig := core.DefaultPasswordConfig()
	if config.Password != nil {
		passwordConfig = *config.Password
	}

	var rateLimits core.RateLimitConfig
	if config.RateLimits != nil {
		rateLimits = *config.RateLimits
	}

	basePath := config.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		return nil, fmt.Errorf("%w: base path %q must start with /", ErrInvalidConfig, basePath)
	}

	var metrics *services.Metrics
	if config.Registerer != nil {
		metrics = services.NewMetrics(config.Registerer)
	}

	limiter, err := services.NewRateLimiter(rateLimits, counters, metrics, logger)
	if err != nil {
		return nil, err
	}

	sessions := services.NewSessionManager(sessionConfig, config.Storage)
	policy := services.NewPasswordPolicy(passwordConfig, passwordHasher, config.Storage)

	auth, err := services.NewAuthService(config.Storage, sessions, policy, limiter, services.AuthOptions{
		Config: services.AuthConfig{
			InvalidateOthersOnPasswordChange: config.InvalidateOthersOnPasswordChange,
		},
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	registry := services.NewEndpointRegistry()
	for _, plugin := range config.Plugins {
		if err := registry.RegisterPlugin(plugin.GetEndpoints()); err != nil {
			return nil, err
		}
	}

	if err := config.HTTP.RegisterRoutes(auth, registry.Endpoints(), basePath); err != nil {
		return nil, err
	}

	return &Zentropy{
		Auth:     auth,
		Sessions: sessions,
		Policy:   policy,
		Limiter:  limiter,
		Reaper:   services.NewReaper(sessions, sessionConfig.ReapInterval, metrics, logger),
		Metrics:  metrics,
		Registry: registry,
		BasePath: basePath,
	}, nil
}
