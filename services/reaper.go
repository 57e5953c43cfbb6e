package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/ApexAZ/zentropy-sub008/pkg/errutil"
)

// Reaper periodically deletes inactive and expired sessions and publishes
// session gauges. Admission never depends on it.
type Reaper struct {
	sessions *SessionManager
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger
}

func NewReaper(sessions *SessionManager, interval time.Duration, metrics *Metrics, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{sessions: sessions, interval: interval, metrics: metrics, logger: logger}
}

// Run reaps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "session reaper started", "interval", r.interval)
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			errutil.LogError(ctx, r.logger, "session reap failed", err)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "session reaper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass and returns how many rows were deleted.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	n, err := r.sessions.Reap(ctx)
	if err != nil {
		return 0, err
	}
	r.metrics.reaped(n)
	if n > 0 {
		r.logger.DebugContext(ctx, "reaped sessions", "count", n)
	}

	stats, err := r.sessions.Stats(ctx)
	if err != nil {
		return n, err
	}
	r.metrics.observeStats(stats)
	return n, nil
}
