package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailhub-backend/internal/mailsync/domain"
)

// OverrideStore persists locally-asserted read states that take precedence
// over provider truth until the provider confirms or rejects the change.
// At most one override exists per (user, provider, message); asserting a
// new state replaces any prior one. The unread-set the poller needs for
// delta computation is derived from the same hash, so membership can never
// disagree with the most recent override.
type OverrideStore struct {
	kv KVStore
}

// NewOverrideStore creates a new OverrideStore on top of kv
func NewOverrideStore(kv KVStore) *OverrideStore {
	return &OverrideStore{kv: kv}
}

type storedOverride struct {
	State      domain.ReadState `json:"state"`
	AssertedAt time.Time        `json:"asserted_at"`
	Stale      bool             `json:"stale,omitempty"`
}

func overrideKey(userID string, provider domain.Provider) string {
	return fmt.Sprintf("override:%s:%s", userID, provider)
}

// Set upserts the override for one message
func (s *OverrideStore) Set(ctx context.Context, userID string, provider domain.Provider, messageID string, state domain.ReadState) error {
	raw, err := json.Marshal(storedOverride{State: state, AssertedAt: time.Now()})
	if err != nil {
		return err
	}
	if err := s.kv.HSet(ctx, overrideKey(userID, provider), messageID, string(raw)); err != nil {
		return fmt.Errorf("set override %s: %w", messageID, err)
	}
	return nil
}

// Get returns the override for one message, or nil when none exists. A
// backing-store failure is returned as an error, never as nil: callers must
// not mistake "store down" for "no override".
func (s *OverrideStore) Get(ctx context.Context, userID string, provider domain.Provider, messageID string) (*domain.Override, error) {
	raw, err := s.kv.HGet(ctx, overrideKey(userID, provider), messageID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override %s: %w", messageID, err)
	}
	return s.decode(userID, provider, messageID, raw)
}

// Clear removes the override for one message. No-op if absent.
func (s *OverrideStore) Clear(ctx context.Context, userID string, provider domain.Provider, messageID string) error {
	if err := s.kv.HDel(ctx, overrideKey(userID, provider), messageID); err != nil {
		return fmt.Errorf("clear override %s: %w", messageID, err)
	}
	return nil
}

// MarkStale flags an override whose provider mutation failed terminally.
// The override stays visible for UI purposes but stops adjusting counts;
// the next authoritative recompute supersedes and clears it. The mark is an
// atomic read-modify-write: a concurrent Set from a newer user action wins
// over the stale write-back, preserving per-message ordering.
func (s *OverrideStore) MarkStale(ctx context.Context, userID string, provider domain.Provider, messageID string) error {
	err := s.kv.HUpdate(ctx, overrideKey(userID, provider), messageID, func(current string, exists bool) (string, bool, error) {
		if !exists {
			return "", false, ErrSkipUpdate
		}
		var so storedOverride
		if err := json.Unmarshal([]byte(current), &so); err != nil {
			return "", false, err
		}
		so.Stale = true
		next, err := json.Marshal(so)
		if err != nil {
			return "", false, err
		}
		return string(next), false, nil
	})
	if err != nil {
		return fmt.Errorf("mark stale %s: %w", messageID, err)
	}
	return nil
}

// Deltas returns the per-direction cardinality of the user's in-flight
// overrides, used to reconcile a freshly-fetched provider snapshot with
// local intent. Stale overrides are excluded: their mutation was terminally
// rejected, so counting them would mask provider truth indefinitely.
func (s *OverrideStore) Deltas(ctx context.Context, userID string, provider domain.Provider) (domain.OverrideDeltas, error) {
	all, err := s.kv.HGetAll(ctx, overrideKey(userID, provider))
	if err != nil {
		return domain.OverrideDeltas{}, fmt.Errorf("override deltas: %w", err)
	}
	var d domain.OverrideDeltas
	for _, raw := range all {
		var so storedOverride
		if err := json.Unmarshal([]byte(raw), &so); err != nil {
			continue
		}
		if so.Stale {
			continue
		}
		switch so.State {
		case domain.StateRead:
			d.ForceRead++
		case domain.StateUnread:
			d.ForceUnread++
		}
	}
	return d, nil
}

// ClearStale removes overrides whose mutation failed terminally. Called
// after an authoritative recompute lands, once truth has superseded them.
// Each removal re-checks staleness atomically so an override re-asserted by
// a newer user action is kept.
func (s *OverrideStore) ClearStale(ctx context.Context, userID string, provider domain.Provider) error {
	key := overrideKey(userID, provider)
	all, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("clear stale overrides: %w", err)
	}
	for field, raw := range all {
		var so storedOverride
		if err := json.Unmarshal([]byte(raw), &so); err != nil || !so.Stale {
			continue
		}
		err := s.kv.HUpdate(ctx, key, field, func(current string, exists bool) (string, bool, error) {
			if !exists {
				return "", false, ErrSkipUpdate
			}
			var cur storedOverride
			if err := json.Unmarshal([]byte(current), &cur); err != nil || !cur.Stale {
				return "", false, ErrSkipUpdate
			}
			return "", true, nil
		})
		if err != nil {
			return fmt.Errorf("clear stale override %s: %w", field, err)
		}
	}
	return nil
}

// ClearAll drops every override for a (user, provider) pair (logout)
func (s *OverrideStore) ClearAll(ctx context.Context, userID string, provider domain.Provider) error {
	return s.kv.Delete(ctx, overrideKey(userID, provider))
}

func (s *OverrideStore) decode(userID string, provider domain.Provider, messageID, raw string) (*domain.Override, error) {
	var so storedOverride
	if err := json.Unmarshal([]byte(raw), &so); err != nil {
		return nil, fmt.Errorf("decode override %s: %w", messageID, err)
	}
	return &domain.Override{
		UserID:     userID,
		Provider:   provider,
		MessageID:  messageID,
		State:      so.State,
		AssertedAt: so.AssertedAt,
		Stale:      so.Stale,
	}, nil
}
