package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	mu   sync.Mutex
	cfg  Config
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, hits: make(map[string][]time.Time), now: time.Now}
}

// NewMemoryLimiterWithClock is NewMemoryLimiter with an injected clock.
func NewMemoryLimiterWithClock(cfg Config, now func() time.Time) *MemoryLimiter {
	l := NewMemoryLimiter(cfg)
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := prune(l.hits[key], now.Add(-l.cfg.Window))
	if len(valid) >= l.cfg.Limit {
		l.hits[key] = valid
		return false, nil
	}
	l.hits[key] = append(valid, now)
	return true, nil
}

// Sweep forgets keys with no hits inside the window and returns how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Window)
	dropped := 0
	for key, hits := range l.hits {
		valid := prune(hits, cutoff)
		if len(valid) == 0 {
			delete(l.hits, key)
			dropped++
			continue
		}
		l.hits[key] = valid
	}
	return dropped
}

// Keys reports how many addresses are currently tracked.
func (l *MemoryLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Run sweeps once per window until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// prune keeps the hits strictly after cutoff. hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
