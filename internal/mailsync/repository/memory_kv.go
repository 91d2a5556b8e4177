package repository

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memoryKV is the single-instance KVStore: a process-local map with TTL
// support. Expired entries are purged lazily on write.
type memoryKV struct {
	mu         sync.Mutex
	values     map[string]memEntry
	hashes     map[string]map[string]string
	lastSweep  time.Time
	sweepEvery time.Duration
	now        func() time.Time
}

type memEntry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// NewMemoryKV creates an in-process KVStore
func NewMemoryKV() KVStore {
	return &memoryKV{
		values:     make(map[string]memEntry),
		hashes:     make(map[string]map[string]string),
		sweepEvery: 10 * time.Second,
		now:        time.Now,
	}
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// sweep drops expired entries; called with mu held
func (s *memoryKV) sweep() {
	now := s.now()
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for k, e := range s.values {
		if e.expired(now) {
			delete(s.values, k)
		}
	}
}

func (s *memoryKV) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || e.expired(s.now()) {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (s *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.values[key] = s.entry(value, ttl)
	return nil
}

func (s *memoryKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if e, ok := s.values[key]; ok && !e.expired(s.now()) {
		return false, nil
	}
	s.values[key] = s.entry(value, ttl)
	return true, nil
}

func (s *memoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.hashes, key)
	return nil
}

func (s *memoryKV) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *memoryKV) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *memoryKV) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *memoryKV) HUpdate(_ context.Context, key, field string, fn func(current string, exists bool) (string, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.hashes[key][field]
	next, remove, err := fn(current, ok)
	if errors.Is(err, ErrSkipUpdate) {
		return nil
	}
	if err != nil {
		return err
	}
	if remove {
		if h, ok := s.hashes[key]; ok {
			delete(h, field)
			if len(h) == 0 {
				delete(s.hashes, key)
			}
		}
		return nil
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = next
	return nil
}

func (s *memoryKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *memoryKV) Update(_ context.Context, key string, fn func(current string, exists bool) (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if ok && e.expired(s.now()) {
		ok = false
	}
	next, err := fn(e.value, ok)
	if err != nil {
		return "", err
	}
	s.values[key] = memEntry{value: next}
	return next, nil
}

func (s *memoryKV) entry(value string, ttl time.Duration) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	return e
}
