package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryCounter is the single-instance CounterStore: per-key admission
// timestamps pruned as the window slides.
type memoryCounter struct {
	mu   sync.Mutex
	keys map[string][]time.Time
	now  func() time.Time
}

// NewMemoryCounter creates an in-process CounterStore
func NewMemoryCounter() CounterStore {
	return &memoryCounter{
		keys: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (c *memoryCounter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-window)

	stamps := c.keys[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		c.keys[key] = kept
		return false, 0, kept[0].Add(window), nil
	}

	kept = append(kept, now)
	c.keys[key] = kept
	return true, limit - len(kept), kept[0].Add(window), nil
}
