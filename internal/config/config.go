// Package config loads the server configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ApexAZ/zentropy-sub008/core"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	ListenAddr  string `koanf:"listen_addr"`
	DatabaseURL string `koanf:"database_url"`
	LogFormat   string `koanf:"log_format"`
	LogLevel    string `koanf:"log_level"`

	InvalidateOthersOnPasswordChange bool `koanf:"invalidate_others_on_password_change"`

	Session   Session   `koanf:"session"`
	Password  Password  `koanf:"password"`
	RateLimit RateLimit `koanf:"ratelimit"`
	Cookie    Cookie    `koanf:"cookie"`
}

type Session struct {
	TTLHours     int           `koanf:"ttl_hours"`
	ReapInterval time.Duration `koanf:"reap_interval"`
}

type Password struct {
	MinLength   int `koanf:"min_length"`
	HistorySize int `koanf:"history_size"`
}

type RateLimit struct {
	Backend   string `koanf:"backend"`
	RedisAddr string `koanf:"redis_addr"`

	Login           Rule `koanf:"login"`
	PasswordUpdate  Rule `koanf:"password_update"`
	AccountCreation Rule `koanf:"account_creation"`
	GeneralAPI      Rule `koanf:"general_api"`
}

type Rule struct {
	Limit  int64         `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

type Cookie struct {
	Name   string `koanf:"name"`
	Secure bool   `koanf:"secure"`
}

var defaults = map[string]any{
	"listen_addr": ":8080",
	"log_format":  "json",
	"log_level":   "info",

	"invalidate_others_on_password_change": false,

	"session.ttl_hours":     24,
	"session.reap_interval": time.Hour,

	"password.min_length":   8,
	"password.history_size": 5,

	"ratelimit.backend":                 BackendMemory,
	"ratelimit.login.limit":             5,
	"ratelimit.login.window":            15 * time.Minute,
	"ratelimit.password_update.limit":   3,
	"ratelimit.password_update.window":  30 * time.Minute,
	"ratelimit.account_creation.limit":  2,
	"ratelimit.account_creation.window": time.Hour,
	"ratelimit.general_api.limit":       300,
	"ratelimit.general_api.window":      time.Minute,

	"cookie.name":   core.DefaultCookieName,
	"cookie.secure": true,
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"listen-addr":           "listen_addr",
	"database-url":          "database_url",
	"log-format":            "log_format",
	"log-level":             "log_level",
	"invalidate-others":     "invalidate_others_on_password_change",
	"session-ttl-hours":     "session.ttl_hours",
	"reap-interval":         "session.reap_interval",
	"password-min-length":   "password.min_length",
	"password-history-size": "password.history_size",
	"ratelimit-backend":     "ratelimit.backend",
	"redis-addr":            "ratelimit.redis_addr",
	"cookie-secure":         "cookie.secure",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("listen-addr", ":8080", "HTTP listen address")
	fs.String("database-url", "", "PostgreSQL connection string (default: $DATABASE_URL)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("invalidate-others", false, "sign out other devices after a password change")
	fs.Int("session-ttl-hours", 24, "session lifetime in hours")
	fs.Duration("reap-interval", time.Hour, "how often expired sessions are deleted (0 disables)")
	fs.Int("password-min-length", 8, "minimum password length")
	fs.Int("password-history-size", 5, "number of previous passwords that cannot be reused")
	fs.String("ratelimit-backend", BackendMemory, "rate limit counter backend (memory or redis)")
	fs.String("redis-addr", "", "redis address for the redis rate limit backend")
	fs.Bool("cookie-secure", true, "set the Secure attribute on the session cookie")
}

// Load builds the configuration. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Session.TTLHours <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive, got %d", c.Session.TTLHours)
	}
	if c.Session.ReapInterval < 0 {
		return fmt.Errorf("session.reap_interval must not be negative")
	}
	if c.Password.MinLength < 1 {
		return fmt.Errorf("password.min_length must be at least 1, got %d", c.Password.MinLength)
	}
	if c.Password.HistorySize < 0 {
		return fmt.Errorf("password.history_size must not be negative, got %d", c.Password.HistorySize)
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("ratelimit.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
	}

	for action, rule := range c.RateLimits().Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("ratelimit.%s: %w", action, err)
		}
	}

	if strings.TrimSpace(c.Cookie.Name) == "" {
		return fmt.Errorf("cookie.name is required")
	}
	return nil
}

func (c *Config) SessionConfig() core.SessionConfig {
	return core.SessionConfig{
		TTL:          time.Duration(c.Session.TTLHours) * time.Hour,
		ReapInterval: c.Session.ReapInterval,
	}
}

func (c *Config) PasswordConfig() core.PasswordConfig {
	return core.PasswordConfig{MinLength: c.Password.MinLength, HistorySize: c.Password.HistorySize}
}

func (c *Config) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{Rules: map[core.Action]core.RateLimitRule{
		core.ActionLogin:           c.RateLimit.Login.rule(),
		core.ActionPasswordUpdate:  c.RateLimit.PasswordUpdate.rule(),
		core.ActionAccountCreation: c.RateLimit.AccountCreation.rule(),
		core.ActionGeneralAPI:      c.RateLimit.GeneralAPI.rule(),
	}}
}

func (c *Config) CookieConfig() core.CookieConfig {
	return core.CookieConfig{Name: c.Cookie.Name, Secure: c.Cookie.Secure}
}

func (r Rule) rule() core.RateLimitRule {
	return core.RateLimitRule{Limit: r.Limit, Window: r.Window}
}
