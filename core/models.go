package core

import "time"

// Role is the closed set of roles a credential can hold.
type Role string

const (
	RoleLead   Role = "lead"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleLead || r == RoleMember
}

// Credential is the identity record a person authenticates against.
//
// Email is stored lower-cased; uniqueness is case-insensitive.
type Credential struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Principal returns the credential without its secret fields.
func (c *Credential) Principal() *Principal {
	if c == nil {
		return nil
	}
	return &Principal{
		ID:          c.ID,
		Email:       c.Email,
		Role:        c.Role,
		Active:      c.Active,
		LastLoginAt: c.LastLoginAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PasswordHistoryEntry holds a hash that was superseded by a password change.
type PasswordHistoryEntry struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credentialId"`
	PasswordHash string    `json:"-"`
	SupersededAt time.Time `json:"supersededAt"`
}

// Session represents one authenticated device or browser
type Session struct {
	ID             string    `json:"id"`
	CredentialID   string    `json:"credentialId"`
	TokenHash      string    `json:"-"` // Never expose in JSON (security!)
	Active         bool      `json:"active"`
	IPAddress      string    `json:"ipAddress"`
	UserAgent      string    `json:"userAgent"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// UsableAt reports whether the session admits requests at now.
// Expiry is a predicate over stored fields, never a stored flag.
func (s *Session) UsableAt(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}

// SessionMetadata is optional client information recorded for audit.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// CreateSessionResult is the only place a plaintext token is observable.
type CreateSessionResult struct {
	Session *Session
	Token   string
}

// SessionData combines principal and session info
// The model returned to clients
type SessionData struct {
	Principal *Principal `json:"user"`
	Session   *Session   `json:"session"`
}

// SessionStats is an observability aggregate over the session table.
type SessionStats struct {
	ActiveCount      int64 `json:"activeCount"`
	ExpiredCount     int64 `json:"expiredCount"`
	DistinctAccounts int64 `json:"distinctAccounts"`
}
