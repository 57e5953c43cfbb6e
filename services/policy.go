package services

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/crypto"
)

// PasswordHasher hashes and verifies passwords. *crypto.Argon2 is the
// production implementation.
type PasswordHasher interface {
	crypto.PasswordHandler
	NeedsRehash(hash string) bool
}

// PasswordPolicy validates candidate passwords and owns hashing.
// It knows nothing about requests or responses.
type PasswordPolicy struct {
	config  core.PasswordConfig
	hasher  PasswordHasher
	history core.PasswordHistoryStorage
}

func NewPasswordPolicy(config core.PasswordConfig, hasher PasswordHasher, history core.PasswordHistoryStorage) *PasswordPolicy {
	defaults := core.DefaultPasswordConfig()
	if config.MinLength <= 0 {
		config.MinLength = defaults.MinLength
	}
	if config.HistorySize < 0 {
		config.HistorySize = 0
	}
	return &PasswordPolicy{config: config, hasher: hasher, history: history}
}

func (p *PasswordPolicy) Config() core.PasswordConfig { return p.config }

// ValidateStrength returns the first broken rule, checked in the order
// length, uppercase, lowercase, digit, symbol.
func (p *PasswordPolicy) ValidateStrength(candidate string) error {
	if utf8.RuneCountInString(candidate) < p.config.MinLength {
		return p.violation(core.ReasonTooShort)
	}

	var upper, lower, digit, symbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return p.violation(core.ReasonMissingUppercase)
	case !lower:
		return p.violation(core.ReasonMissingLowercase)
	case !digit:
		return p.violation(core.ReasonMissingDigit)
	case !symbol:
		return p.violation(core.ReasonMissingSymbol)
	}
	return nil
}

func (p *PasswordPolicy) Hash(plaintext string) (string, error) {
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// Verify reports whether plaintext matches hash. A malformed hash is an
// error, not a mismatch.
func (p *PasswordPolicy) Verify(plaintext, hash string) (bool, error) {
	return p.hasher.Verify(plaintext, hash)
}

func (p *PasswordPolicy) NeedsRehash(hash string) bool {
	return p.hasher.NeedsRehash(hash)
}

// CheckHistory rejects a candidate that verifies against any of the most
// recent HistorySize superseded hashes. Salted hashes never compare equal,
// so each entry is checked by verification.
func (p *PasswordPolicy) CheckHistory(ctx context.Context, credentialID, candidate string) error {
	if p.config.HistorySize == 0 || p.history == nil {
		return nil
	}

	entries, err := p.history.ListPasswordHistory(ctx, credentialID, p.config.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to load password history: %w", err)
	}

	for _, entry := range entries {
		ok, err := p.hasher.Verify(candidate, entry.PasswordHash)
		if err != nil {
			// corrupt entries are skipped
			continue
		}
		if ok {
			return p.violation(core.ReasonReused)
		}
	}
	return nil
}

func (p *PasswordPolicy) violation(reason string) error {
	return &core.PolicyViolationError{Reason: reason, MinLength: p.config.MinLength}
}
