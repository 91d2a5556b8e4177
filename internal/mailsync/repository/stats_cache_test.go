package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"mailhub-backend/internal/mailsync/domain"
)

func TestStatsCacheGetSet(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(NewMemoryKV())

	got, err := cache.Get(ctx, "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected cold cache, got %+v", got)
	}

	snap := domain.StatsSnapshot{Unread: 10, Total: 50, ComputedAt: time.Now()}
	if err := cache.Set(ctx, "u1", domain.ProviderGmail, snap); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = cache.Get(ctx, "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Unread != 10 || got.Total != 50 {
		t.Fatalf("got %+v, want {10 50}", got)
	}
}

func TestStatsCacheApplyDelta(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(NewMemoryKV())

	if err := cache.Set(ctx, "u1", domain.ProviderGmail, domain.StatsSnapshot{Unread: 10, Total: 50}); err != nil {
		t.Fatalf("set: %v", err)
	}

	snap, err := cache.ApplyDelta(ctx, "u1", domain.ProviderGmail, -3, 0)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if snap.Unread != 7 || snap.Total != 50 {
		t.Fatalf("after -3 unread: %+v", snap)
	}

	// Deltas clamp at zero instead of going negative.
	snap, err = cache.ApplyDelta(ctx, "u1", domain.ProviderGmail, -100, -100)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if snap.Unread != 0 || snap.Total != 0 {
		t.Fatalf("expected clamp to zero, got %+v", snap)
	}
}

// A delta against a cold cache starts from zero rather than failing.
func TestStatsCacheApplyDeltaCold(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(NewMemoryKV())

	snap, err := cache.ApplyDelta(ctx, "u1", domain.ProviderGmail, 2, 5)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if snap.Unread != 2 || snap.Total != 5 {
		t.Fatalf("got %+v, want {2 5}", snap)
	}
}

// Concurrent deltas must all land; a lost update would desync the counter
// until the next authoritative poll.
func TestStatsCacheApplyDeltaConcurrent(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(NewMemoryKV())

	if err := cache.Set(ctx, "u1", domain.ProviderGmail, domain.StatsSnapshot{Unread: 1000, Total: 1000}); err != nil {
		t.Fatalf("set: %v", err)
	}

	const workers = 20
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := cache.ApplyDelta(ctx, "u1", domain.ProviderGmail, -1, 0); err != nil {
					t.Errorf("apply delta: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := cache.Get(ctx, "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := 1000 - workers*perWorker
	if got.Unread != want {
		t.Fatalf("unread = %d, want %d (lost updates)", got.Unread, want)
	}
}

func TestStatsCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(NewMemoryKV())

	if err := cache.Set(ctx, "u1", domain.ProviderGmail, domain.StatsSnapshot{Unread: 5, Total: 9}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.Invalidate(ctx, "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, err := cache.Get(ctx, "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("snapshot survived invalidate: %+v", got)
	}
}
