package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryCounterStore is a process-local CounterStore for single-instance
// deployments and tests. Increments are serialized under one mutex, which
// gives the same atomicity the Redis script provides across instances.
type MemoryCounterStore struct {
	clock clockwork.Clock

	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore(clock clockwork.Clock) *MemoryCounterStore {
	return &MemoryCounterStore{
		clock:    clock,
		counters: make(map[string]*memoryCounter),
	}
}

// IncrWindows implements CounterStore.
func (s *MemoryCounterStore) IncrWindows(_ context.Context, windowKey, dayKey string, cost int64, windowTTL, dayTTL time.Duration) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	window := s.incr(windowKey, cost, now, windowTTL)
	day := s.incr(dayKey, cost, now, dayTTL)

	// Drop dead counters opportunistically; bucketed keys change every
	// window, so the map would otherwise grow without bound.
	if len(s.counters) > 1024 {
		s.prune(now)
	}

	return window, day, nil
}

// incr must be called with mu held.
func (s *MemoryCounterStore) incr(key string, cost int64, now time.Time, ttl time.Duration) int64 {
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count += cost
	return c.count
}

// prune must be called with mu held.
func (s *MemoryCounterStore) prune(now time.Time) {
	for key, c := range s.counters {
		if now.After(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}
