package zentropy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/services"
)

// plainHasher keeps construction cheap; argon2 is exercised in pkg/crypto.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain$" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "plain$"+password, nil
}
func (plainHasher) NeedsRehash(string) bool { return false }

type recordingHTTP struct {
	auth      core.AuthProvider
	endpoints []*core.Endpoint
	basePath  string
	err       error
}

func (r *recordingHTTP) RegisterRoutes(auth core.AuthProvider, endpoints []*core.Endpoint, basePath string) error {
	r.auth = auth
	r.endpoints = endpoints
	r.basePath = basePath
	return r.err
}

type staticPlugin []core.Endpoint

func (p staticPlugin) GetEndpoints() []core.Endpoint { return p }

func validConfig() (Config, *recordingHTTP) {
	http := &recordingHTTP{}
	return Config{
		Storage:        services.NewFakeStorageProvider(),
		HTTP:           http,
		PasswordHasher: plainHasher{},
	}, http
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "storage is required",
			mutate:  func(c *Config) { c.Storage = nil },
			wantErr: ErrStorageRequired,
		},
		{
			name:    "http adapter is required",
			mutate:  func(c *Config) { c.HTTP = nil },
			wantErr: ErrHTTPAdapterRequired,
		},
		{
			name:    "negative session ttl",
			mutate:  func(c *Config) { c.Session = &SessionConfig{TTL: -time.Hour} },
			wantErr: ErrInvalidConfig,
		},
		{
			name: "zero rate limit",
			mutate: func(c *Config) {
				c.RateLimits = &RateLimitConfig{Rules: map[Action]RateLimitRule{
					core.ActionLogin: {Limit: 0, Window: time.Minute},
				}}
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "relative base path",
			mutate:  func(c *Config) { c.BasePath = "auth" },
			wantErr: ErrInvalidConfig,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			config, _ := validConfig()
			test.mutate(&config)

			// Act
			z, err := New(config)

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("expected %v, got %v", test.wantErr, err)
			}
			if z != nil {
				t.Fatal("expected no instance on error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	// Arrange
	config, http := validConfig()

	// Act
	z, err := New(config)

	// Assert
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if http.basePath != defaultBasePath || z.BasePath != defaultBasePath {
		t.Errorf("expected base path %q, got adapter=%q instance=%q", defaultBasePath, http.basePath, z.BasePath)
	}
	if http.auth != z.Auth {
		t.Error("expected the adapter to receive the wired auth service")
	}
	if len(http.endpoints) != len(services.BaseEndpoints()) {
		t.Errorf("expected %d endpoints, got %d", len(services.BaseEndpoints()), len(http.endpoints))
	}
	if z.Auth.SessionTTL() != 24*time.Hour {
		t.Errorf("expected 24h session ttl, got %v", z.Auth.SessionTTL())
	}
	if got := z.Policy.Config(); got != DefaultPasswordConfig() {
		t.Errorf("expected default password config, got %+v", got)
	}
	// Requirement: the default login ceiling is 5 attempts per 15 minutes.
	rule, ok := z.Limiter.Rule(core.ActionLogin)
	if !ok || rule.Limit != 5 || rule.Window != 15*time.Minute {
		t.Errorf("unexpected login rule %+v", rule)
	}
	if z.Metrics != nil {
		t.Error("expected metrics to stay disabled without a registerer")
	}
	if z.Reaper == nil {
		t.Error("expected a reaper")
	}
}

func TestNew_Overrides(t *testing.T) {
	// Arrange
	config, http := validConfig()
	config.BasePath = "/auth"
	config.Session = &SessionConfig{TTL: 2 * time.Hour, ReapInterval: time.Minute}
	config.Password = &PasswordConfig{MinLength: 12, HistorySize: 3}
	config.RateLimits = &RateLimitConfig{Rules: map[Action]RateLimitRule{
		core.ActionLogin: {Limit: 10, Window: time.Minute},
	}}
	config.Registerer = prometheus.NewRegistry()

	// Act
	z, err := New(config)

	// Assert
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if http.basePath != "/auth" {
		t.Errorf("expected /auth, got %q", http.basePath)
	}
	if z.Auth.SessionTTL() != 2*time.Hour {
		t.Errorf("expected 2h ttl, got %v", z.Auth.SessionTTL())
	}
	if z.Policy.Config().MinLength != 12 {
		t.Errorf("expected min length 12, got %d", z.Policy.Config().MinLength)
	}
	if rule, _ := z.Limiter.Rule(core.ActionLogin); rule.Limit != 10 {
		t.Errorf("expected login limit 10, got %d", rule.Limit)
	}
	// Requirement: overriding one action keeps the defaults for the rest.
	if rule, _ := z.Limiter.Rule(core.ActionAccountCreation); rule.Limit != 2 || rule.Window != time.Hour {
		t.Errorf("unexpected account creation rule %+v", rule)
	}
	if z.Metrics == nil {
		t.Error("expected metrics with a registerer")
	}
}

func TestNew_Plugins(t *testing.T) {
	extra := core.Endpoint{
		Path:     "/whoami",
		Method:   "GET",
		Handler:  func(*core.RequestContext) error { return nil },
		Metadata: core.EndpointMetadata{OperationID: "whoami", Protected: true},
	}

	t.Run("plugin endpoints reach the adapter", func(t *testing.T) {
		// Arrange
		config, http := validConfig()
		config.Plugins = []EndpointProvider{staticPlugin{extra}}

		// Act
		_, err := New(config)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		found := false
		for _, ep := range http.endpoints {
			if ep.Path == "/whoami" {
				found = true
			}
		}
		if !found {
			t.Error("expected plugin endpoint to be registered")
		}
	})

	t.Run("conflicting plugin fails construction", func(t *testing.T) {
		// Arrange
		config, http := validConfig()
		base := services.BaseEndpoints()[0]
		config.Plugins = []EndpointProvider{staticPlugin{{Path: base.Path, Method: base.Method}}}

		// Act
		_, err := New(config)

		// Assert
		if err == nil || !strings.Contains(err.Error(), "conflict") {
			t.Fatalf("expected conflict error, got %v", err)
		}
		if http.endpoints != nil {
			t.Error("expected routes not to be registered")
		}
	})
}

func TestNew_AdapterErrorPropagates(t *testing.T) {
	// Arrange
	config, http := validConfig()
	http.err = errors.New("route clash")

	// Act
	_, err := New(config)

	// Assert
	if err == nil || err.Error() != "route clash" {
		t.Fatalf("expected adapter error, got %v", err)
	}
}

func TestNew_WiredServicesWork(t *testing.T) {
	// Arrange
	config, _ := validConfig()
	z, err := New(config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	client := core.ClientInfo{IP: "203.0.113.9", UserAgent: "test"}

	// Act
	reg, err := z.Auth.Register(ctx, core.RegisterInput{Email: "lead@example.com", Password: "Str0ng!Pass"}, client)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	data, err := z.Auth.Authenticate(ctx, reg.Token)

	// Assert
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if data.Principal.Email != "lead@example.com" {
		t.Errorf("unexpected principal %+v", data.Principal)
	}
}
