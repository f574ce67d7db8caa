package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type window struct {
	hits   []time.Time
	length time.Duration
}

// MemoryLimiter keeps attempt timestamps in process memory.
// All keys share one mutex, so a check and its record are atomic.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemoryLimiter creates a new MemoryLimiter instance
func NewMemoryLimiter(logger *zap.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the limiter's time source
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string, max int, length time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.add(key, max, length), nil
}

// Record implements Limiter
func (l *MemoryLimiter) Record(_ context.Context, key string, max int, length time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.add(key, max, length)
	return nil
}

// ResetTime implements Limiter
func (l *MemoryLimiter) ResetTime(_ context.Context, key string, length time.Duration) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		return now, nil
	}
	w.purge(now.Add(-length))
	if len(w.hits) == 0 {
		return now, nil
	}
	return w.hits[0].Add(length), nil
}

// Count returns the number of attempts currently inside the window for key
func (l *MemoryLimiter) Count(key string, length time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	w.purge(l.now().Add(-length))
	return len(w.hits)
}

// add must be called with mu held
func (l *MemoryLimiter) add(key string, max int, length time.Duration) bool {
	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	if length > w.length {
		w.length = length
	}
	w.purge(now.Add(-length))

	if len(w.hits) >= max {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// purge drops hits older than cutoff. Hits are appended in order, so the kept
// ones form a suffix.
func (w *window) purge(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Sweep removes keys with no attempts left inside their longest window
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		w.purge(now.Add(-w.length))
		if len(w.hits) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker starts a background worker to periodically drop idle keys
func (l *MemoryLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.Debug("swept idle rate limit keys", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			l.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
