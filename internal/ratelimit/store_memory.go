package ratelimit

import (
	"context"
	"sync"
	"time"

	"agentpass/pkg/platform/clock"
)

// MemoryStore is a per-process sliding window store.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string][]time.Time
}

// NewMemoryStore creates a store. A nil clock means the wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{clock: clk, windows: make(map[string][]time.Time)}
}

// Allow records one hit for key when fewer than limit hits fall inside window.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	hits := prune(s.windows[key], now.Add(-window))
	if len(hits) >= limit {
		s.windows[key] = hits
		reset := now.Add(window)
		if len(hits) > 0 {
			reset = hits[0].Add(window)
		}
		return Result{Allowed: false, Limit: limit, ResetAt: reset}, nil
	}

	hits = append(hits, now)
	s.windows[key] = hits
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(hits),
		ResetAt:   hits[0].Add(window),
	}, nil
}

// prune drops hits at or before cutoff. hits is sorted.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
