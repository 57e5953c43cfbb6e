package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrCounterCapacity is returned by a CounterStore that cannot track another
// key. The rate limiter treats it as a denial.
var ErrCounterCapacity = errors.New("rate limit counter capacity reached")

// Action names a protected operation with its own ceiling and window.
type Action string

const (
	ActionLogin           Action = "login"
	ActionPasswordUpdate  Action = "password_update"
	ActionAccountCreation Action = "account_creation"
	ActionGeneralAPI      Action = "general_api"
)

// Dimensions identify who is attempting an action. Which fields take part in
// the counter key depends on the action.
type Dimensions struct {
	IP         string
	Identifier string
	AccountID  string
}

// Key composes the counter key for action. Each dimension is length-prefixed
// so values containing the separator (IPv6 addresses, identifiers) cannot
// run into each other.
func (d Dimensions) Key(action Action) string {
	var parts []string
	switch action {
	case ActionLogin:
		parts = []string{d.IP, strings.ToLower(strings.TrimSpace(d.Identifier))}
	case ActionPasswordUpdate:
		parts = []string{d.IP, d.AccountID}
	default:
		parts = []string{d.IP}
	}

	var b strings.Builder
	b.WriteString(string(action))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// CounterStore is the swappable backend for rate-limit counters.
//
// Increment must add one and report the new count and the time left in the
// current window as a single atomic step. The first hit in a window starts
// the window.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Reset(ctx context.Context, key string) error
}
