package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// RateLimiter applies per-action ceilings over a swappable counter store.
// Every check counts as an attempt, whatever happens downstream.
type RateLimiter struct {
	rules   map[core.Action]core.RateLimitRule
	store   core.CounterStore
	metrics *Metrics
	logger  *slog.Logger
}

func NewRateLimiter(config core.RateLimitConfig, store core.CounterStore, metrics *Metrics, logger *slog.Logger) (*RateLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: counter store is required", core.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rules := core.DefaultRateLimitConfig().Rules
	for action, rule := range config.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}
		rules[action] = rule
	}

	return &RateLimiter{rules: rules, store: store, metrics: metrics, logger: logger}, nil
}

// Rule returns the ceiling configured for action.
func (l *RateLimiter) Rule(action core.Action) (core.RateLimitRule, bool) {
	rule, ok := l.rules[action]
	return rule, ok
}

// Check counts one attempt at action and decides whether it is admitted.
// The attempt is admitted while the post-increment count stays within the
// ceiling, which is the same as the pre-increment count being below it.
func (l *RateLimiter) Check(ctx context.Context, action core.Action, dims core.Dimensions) (core.Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		return core.Decision{}, fmt.Errorf("%w: no rate limit rule for %q", core.ErrInvalidConfig, action)
	}

	count, ttl, err := l.store.Increment(ctx, dims.Key(action), rule.Window)
	if errors.Is(err, core.ErrCounterCapacity) {
		l.metrics.rateLimited(action)
		l.logger.WarnContext(ctx, "rate limit counters at capacity, denying", "action", action, "ip", dims.IP)
		return core.Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	if err != nil {
		return core.Decision{}, fmt.Errorf("rate limit %s: %w", action, err)
	}

	if count > rule.Limit {
		l.metrics.rateLimited(action)
		l.logger.WarnContext(ctx, "rate limit exceeded", "action", action, "ip", dims.IP, "count", count)
		return core.Decision{Allowed: false, Count: count, RetryAfter: ttl}, nil
	}

	return core.Decision{Allowed: true, Count: count, Remaining: rule.Limit - count}, nil
}

// Enforce is Check that reports a denial as *core.RateLimitError.
func (l *RateLimiter) Enforce(ctx context.Context, action core.Action, dims core.Dimensions) error {
	decision, err := l.Check(ctx, action, dims)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &core.RateLimitError{Action: action, RetryAfter: decision.RetryAfter}
	}
	return nil
}

// Reset clears the counter for action and dims.
func (l *RateLimiter) Reset(ctx context.Context, action core.Action, dims core.Dimensions) error {
	return l.store.Reset(ctx, dims.Key(action))
}
