package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Authentication Related Errors
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")           // 401 Unauthorized
	ErrInvalidCurrentPassword = errors.New("current password is incorrect") // 401 Unauthorized
	ErrConflict               = errors.New("email is already registered")   // 409 Conflict
	ErrNotFound               = errors.New("not found")                     // 404 Not Found

	// ErrCredentialChanged means the stored hash no longer matches the one a
	// password update was based on.
	ErrCredentialChanged = errors.New("credential changed concurrently")
)

// Validation errors (client input)
var (
	ErrInvalidInput = errors.New("invalid input") // 400
	ErrInvalidEmail = fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	ErrInvalidRole  = fmt.Errorf("%w: unknown role", ErrInvalidInput)
)

// Session errors
var (
	ErrUnauthenticated = errors.New("unauthenticated") // 401

	// ErrAuthenticationRequired is returned when no token was supplied.
	ErrAuthenticationRequired error = &UnauthenticatedError{Message: "authentication required"}
	// ErrInvalidSession is returned when a token was supplied but failed admission.
	ErrInvalidSession error = &UnauthenticatedError{Message: "invalid or expired session"}
)

// Policy and throttling errors
var (
	ErrTooManyAttempts = errors.New("too many attempts, try again later") // 429
	ErrPolicyViolation = errors.New("password policy violation")          // 400
)

// Failure errors
var (
	ErrInternal    = errors.New("internal error")                  // 500
	ErrUnavailable = errors.New("service temporarily unavailable") // 503
)

// Config errors (server-side configuration)
var (
	ErrStorageRequired     = errors.New("storage adapter is required") // 500
	ErrHTTPAdapterRequired = errors.New("http adapter is required")    // 500
	ErrInvalidConfig       = errors.New("invalid configuration")       // 500
)

// UnauthenticatedError distinguishes why admission failed while keeping a
// single access decision: every instance matches ErrUnauthenticated.
type UnauthenticatedError struct {
	Message string
}

func (e *UnauthenticatedError) Error() string { return e.Message }

func (e *UnauthenticatedError) Is(target error) bool { return target == ErrUnauthenticated }

// Password policy reasons. Stable codes clients can map to messages.
const (
	ReasonTooShort         = "too_short"
	ReasonMissingUppercase = "missing_uppercase"
	ReasonMissingLowercase = "missing_lowercase"
	ReasonMissingDigit     = "missing_digit"
	ReasonMissingSymbol    = "missing_symbol"
	ReasonReused           = "reused"
)

// PolicyViolationError reports the first password rule a candidate broke.
type PolicyViolationError struct {
	Reason    string
	MinLength int
}

func (e *PolicyViolationError) Error() string {
	switch e.Reason {
	case ReasonTooShort:
		return fmt.Sprintf("password must be at least %d characters", e.MinLength)
	case ReasonMissingUppercase:
		return "password must contain an uppercase letter"
	case ReasonMissingLowercase:
		return "password must contain a lowercase letter"
	case ReasonMissingDigit:
		return "password must contain a digit"
	case ReasonMissingSymbol:
		return "password must contain a symbol"
	case ReasonReused:
		return "password was used recently, choose a different one"
	default:
		return ErrPolicyViolation.Error()
	}
}

func (e *PolicyViolationError) Is(target error) bool { return target == ErrPolicyViolation }

// RateLimitError carries the back-off hint for a denied action.
type RateLimitError struct {
	Action     Action
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrTooManyAttempts.Error(), e.RetryAfterSeconds())
}

func (e *RateLimitError) Is(target error) bool { return target == ErrTooManyAttempts }

// RetryAfterSeconds rounds up so a client never retries early.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
