package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mailhub-backend/internal/mailsync/domain"
)

// StatsCache holds the per-(user, provider) {unread, total} counters the UI
// renders. Optimistic deltas from user actions and authoritative overwrites
// from the poller both land here; deltas go through an atomic per-key
// read-modify-write so concurrent actions cannot lose updates.
type StatsCache struct {
	kv KVStore
}

// NewStatsCache creates a new StatsCache on top of kv
func NewStatsCache(kv KVStore) *StatsCache {
	return &StatsCache{kv: kv}
}

func statsKey(userID string, provider domain.Provider) string {
	return fmt.Sprintf("stats:%s:%s", userID, provider)
}

// Get returns the cached snapshot, or nil when none exists yet
func (c *StatsCache) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.StatsSnapshot, error) {
	raw, err := c.kv.Get(ctx, statsKey(userID, provider))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	var snap domain.StatsSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &snap, nil
}

// Set overwrites the snapshot unconditionally. Only authoritative
// recomputes may use this; optimistic adjustments go through ApplyDelta.
func (c *StatsCache) Set(ctx context.Context, userID string, provider domain.Provider, snap domain.StatsSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, statsKey(userID, provider), string(raw), 0); err != nil {
		return fmt.Errorf("set stats: %w", err)
	}
	return nil
}

// ApplyDelta atomically adjusts the counters, clamping both at zero, and
// returns the resulting snapshot for immediate broadcast. A missing
// snapshot starts from zero (created lazily on first access).
func (c *StatsCache) ApplyDelta(ctx context.Context, userID string, provider domain.Provider, unreadDelta, totalDelta int) (domain.StatsSnapshot, error) {
	var result domain.StatsSnapshot
	_, err := c.kv.Update(ctx, statsKey(userID, provider), func(current string, exists bool) (string, error) {
		var snap domain.StatsSnapshot
		if exists {
			if err := json.Unmarshal([]byte(current), &snap); err != nil {
				return "", fmt.Errorf("decode stats: %w", err)
			}
		}
		snap.Unread += unreadDelta
		snap.Total += totalDelta
		if snap.Unread < 0 {
			snap.Unread = 0
		}
		if snap.Total < 0 {
			snap.Total = 0
		}
		result = snap
		raw, err := json.Marshal(snap)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("apply stats delta: %w", err)
	}
	return result, nil
}

// Invalidate drops the cached snapshot (logout, manual reset)
func (c *StatsCache) Invalidate(ctx context.Context, userID string, provider domain.Provider) error {
	return c.kv.Delete(ctx, statsKey(userID, provider))
}
