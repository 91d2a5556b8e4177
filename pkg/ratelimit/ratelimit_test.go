package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// erroringStore simulates an unreachable counter backend
type erroringStore struct {
	calls int32
}

func (s *erroringStore) Allow(context.Context, string, int, time.Duration) (bool, int, time.Time, error) {
	atomic.AddInt32(&s.calls, 1)
	return false, 0, time.Time{}, errors.New("connection refused")
}

func TestMemoryCounterBurst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounter()

	const limit = 10
	admitted := 0
	for i := 0; i < limit+5; i++ {
		allowed, _, _, err := store.Allow(ctx, "k", limit, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if allowed {
			admitted++
		}
	}
	if admitted != limit {
		t.Fatalf("admitted %d of a %d-burst, want exactly %d", admitted, limit, limit)
	}
}

// Exactly limit requests win under concurrency; the window never overshoots.
func TestMemoryCounterConcurrentBurst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounter()

	const limit = 25
	const requests = 100
	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, _, err := store.Allow(ctx, "k", limit, time.Minute)
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if allowed {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != limit {
		t.Fatalf("admitted %d, want exactly %d", admitted, limit)
	}
}

func TestMemoryCounterWindowSlides(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounter()

	window := 50 * time.Millisecond
	for i := 0; i < 3; i++ {
		if allowed, _, _, _ := store.Allow(ctx, "k", 3, window); !allowed {
			t.Fatalf("request %d denied inside budget", i)
		}
	}
	if allowed, _, _, _ := store.Allow(ctx, "k", 3, window); allowed {
		t.Fatal("request admitted over budget")
	}

	time.Sleep(window + 20*time.Millisecond)
	if allowed, _, _, _ := store.Allow(ctx, "k", 3, window); !allowed {
		t.Fatal("request denied after the window slid")
	}
}

func TestMemoryCounterKeysIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounter()

	if allowed, _, _, _ := store.Allow(ctx, "a", 1, time.Minute); !allowed {
		t.Fatal("first request on key a denied")
	}
	if allowed, _, _, _ := store.Allow(ctx, "b", 1, time.Minute); !allowed {
		t.Fatal("key b charged for key a's traffic")
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()
	store := &erroringStore{}
	l := New(store, Limits{Requests: 1, Window: time.Minute}, Limits{Requests: 1, Window: time.Minute})

	for i := 0; i < 5; i++ {
		if res := l.AllowProviderCall(ctx, "u1", "gmail"); !res.Allowed {
			t.Fatal("limiter failed closed with store down")
		}
	}
	if atomic.LoadInt32(&store.calls) == 0 {
		t.Fatal("store never consulted")
	}
}

func TestLimiterComposedScopes(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(),
		Limits{Requests: 2, Window: time.Minute},
		Limits{Requests: 100, Window: time.Minute},
	)

	for i := 0; i < 2; i++ {
		if res := l.AllowProviderCall(ctx, "u1", "gmail"); !res.Allowed {
			t.Fatalf("call %d denied inside user budget", i)
		}
	}
	res := l.AllowProviderCall(ctx, "u1", "gmail")
	if res.Allowed {
		t.Fatal("call admitted over user budget")
	}
	if res.LimitedBy != ScopeUser {
		t.Fatalf("limited by %q, want user scope", res.LimitedBy)
	}

	// Another user still has a full budget.
	if res := l.AllowProviderCall(ctx, "u2", "gmail"); !res.Allowed {
		t.Fatal("second user starved by first user's budget")
	}
}

func TestLimiterProviderScopeDenies(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(),
		Limits{Requests: 100, Window: time.Minute},
		Limits{Requests: 1, Window: time.Minute},
	)

	if res := l.AllowProviderCall(ctx, "u1", "gmail"); !res.Allowed {
		t.Fatal("first call denied")
	}
	res := l.AllowProviderCall(ctx, "u2", "gmail")
	if res.Allowed {
		t.Fatal("shared provider quota not enforced across users")
	}
	if res.LimitedBy != ScopeProvider {
		t.Fatalf("limited by %q, want provider scope", res.LimitedBy)
	}
}

// Background polls consume only the provider window.
func TestLimiterProviderScopeSkipsUserBudget(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(),
		Limits{Requests: 1, Window: time.Minute},
		Limits{Requests: 100, Window: time.Minute},
	)

	for i := 0; i < 10; i++ {
		if res := l.AllowProviderScope(ctx, "gmail"); !res.Allowed {
			t.Fatalf("poll %d denied", i)
		}
	}
	// The user's single action slot is still free.
	if res := l.AllowProviderCall(ctx, "u1", "gmail"); !res.Allowed {
		t.Fatal("polling consumed the user's action budget")
	}
}
