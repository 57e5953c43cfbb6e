package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ApexAZ/zentropy-sub008/core"
)

var _ core.CounterStore = (*MemoryCounterStore)(nil)

// MemoryCounterStore implements fixed-window counters for a single process.
// Once MaxKeys windows are live, new keys are refused with
// core.ErrCounterCapacity; a live window is never dropped to make room.
type MemoryCounterStore struct {
	windows       map[string]*window
	mu            sync.Mutex
	maxKeys       int
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time

	// counters
	increments int64
	resets     int64
	evictions  int64
	rejections int64
}

type window struct {
	count   int64
	resetAt time.Time
}

type MemoryCounterConfig struct {
	// MaxKeys bounds memory.
	MaxKeys int
	// SweepInterval is the minimum time between sweeps triggered by a full
	// store. Defaults to one minute.
	SweepInterval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type MemoryCounterStats struct {
	Increments int64
	Resets     int64
	Evictions  int64
	Rejections int64
	Size       int
}

// NewMemoryCounterStore creates a new in-memory counter store
func NewMemoryCounterStore(c MemoryCounterConfig) *MemoryCounterStore {
	if c.MaxKeys == 0 {
		c.MaxKeys = 100_000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &MemoryCounterStore{
		windows:       make(map[string]*window),
		maxKeys:       c.MaxKeys,
		sweepInterval: c.SweepInterval,
		now:           c.Now,
	}
}

// Increment adds one to key's window, starting a new window when the old one
// has elapsed. Read, reset and increment happen under one lock.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	switch {
	case ok && now.Before(w.resetAt):
	case ok:
		w.count, w.resetAt = 0, now.Add(win)
	default:
		if len(s.windows) >= s.maxKeys && !s.makeRoomLocked(now) {
			atomic.AddInt64(&s.rejections, 1)
			return 0, win, core.ErrCounterCapacity
		}
		w = &window{resetAt: now.Add(win)}
		s.windows[key] = w
	}

	w.count++
	atomic.AddInt64(&s.increments, 1)

	return w.count, w.resetAt.Sub(now), nil
}

// Reset drops key's window
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.windows[key]; existed {
		delete(s.windows, key)
		atomic.AddInt64(&s.resets, 1)
	}
	return nil
}

// Sweep removes elapsed windows and returns how many were dropped.
func (s *MemoryCounterStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryCounterStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryCounterStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// makeRoomLocked sweeps elapsed windows, at most once per sweepInterval, and
// reports whether any slot was freed.
func (s *MemoryCounterStore) makeRoomLocked(now time.Time) bool {
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.sweepInterval {
		return false
	}
	s.lastSweep = now

	n := s.sweepLocked(now)
	atomic.AddInt64(&s.evictions, int64(n))
	return n > 0
}

// Len returns the number of tracked windows
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Stats returns counter statistics
func (s *MemoryCounterStore) Stats() MemoryCounterStats {
	return MemoryCounterStats{
		Increments: atomic.LoadInt64(&s.increments),
		Resets:     atomic.LoadInt64(&s.resets),
		Evictions:  atomic.LoadInt64(&s.evictions),
		Rejections: atomic.LoadInt64(&s.rejections),
		Size:       s.Len(),
	}
}
