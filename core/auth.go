package core

import (
	"context"
	"time"
)

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RegisterInput contains the data needed to register a new credential
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// LoginInput contains the credentials for authentication
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult contains the principal and the session that was issued
type LoginResult struct {
	Principal *Principal `json:"user"`
	Session   *Session   `json:"session"`
	Token     string     `json:"-"` // The raw token travels in the cookie only
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	SignOutOthers   bool   `json:"signOutOthers"`
}

type DeleteAccountInput struct {
	Password string `json:"password"`
}

// AuthProvider is the gateway the HTTP adapters talk to.
type AuthProvider interface {
	// CheckRequest applies the coarse per-address ceiling ahead of every route.
	CheckRequest(ctx context.Context, client ClientInfo) error

	Register(ctx context.Context, input RegisterInput, client ClientInfo) (*LoginResult, error)
	Login(ctx context.Context, input LoginInput, client ClientInfo) (*LoginResult, error)
	Authenticate(ctx context.Context, token string) (*SessionData, error)
	Logout(ctx context.Context, token string)
	Refresh(ctx context.Context, token string) (*Session, error)

	ChangePassword(ctx context.Context, current *SessionData, token string, input ChangePasswordInput, client ClientInfo) error
	ListDevices(ctx context.Context, current *SessionData) ([]*Session, error)
	SignOutEverywhere(ctx context.Context, current *SessionData) (int, error)
	DeleteAccount(ctx context.Context, current *SessionData, input DeleteAccountInput) error

	SessionTTL() time.Duration
}
