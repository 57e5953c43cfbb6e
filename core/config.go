package core

import (
	"fmt"
	"time"
)

type SessionConfig struct {
	TTL          time.Duration // default lifetime of a new session
	ReapInterval time.Duration // how often the reaper runs; 0 disables it
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{TTL: 24 * time.Hour, ReapInterval: time.Hour}
}

type PasswordConfig struct {
	MinLength   int
	HistorySize int
}

func DefaultPasswordConfig() PasswordConfig {
	return PasswordConfig{MinLength: 8, HistorySize: 5}
}

// RateLimitRule admits Limit attempts per Window.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

func (r RateLimitRule) Validate() error {
	if r.Limit <= 0 || r.Window <= 0 {
		return fmt.Errorf("%w: rate limit needs a positive limit and window", ErrInvalidConfig)
	}
	return nil
}

type RateLimitConfig struct {
	Rules map[Action]RateLimitRule
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Rules: map[Action]RateLimitRule{
		ActionLogin:           {Limit: 5, Window: 15 * time.Minute},
		ActionPasswordUpdate:  {Limit: 3, Window: 30 * time.Minute},
		ActionAccountCreation: {Limit: 2, Window: time.Hour},
		ActionGeneralAPI:      {Limit: 300, Window: time.Minute},
	}}
}

type CookieConfig struct {
	Name   string
	Secure bool
}

const DefaultCookieName = "zentropy_session"
