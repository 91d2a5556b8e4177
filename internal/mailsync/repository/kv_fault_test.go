package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailhub-backend/internal/mailsync/domain"
)

// downKV errors on every operation, standing in for an unreachable backend
type downKV struct{}

var errStoreDown = errors.New("store down")

func (downKV) Get(context.Context, string) (string, error) {
	return "", errStoreDown
}

func (downKV) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}

func (downKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}

func (downKV) Delete(context.Context, string) error {
	return errStoreDown
}

func (downKV) HSet(context.Context, string, string, string) error {
	return errStoreDown
}

func (downKV) HGet(context.Context, string, string) (string, error) {
	return "", errStoreDown
}

func (downKV) HDel(context.Context, string, ...string) error {
	return errStoreDown
}

func (downKV) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, errStoreDown
}
func (downKV) HUpdate(context.Context, string, string, func(string, bool) (string, bool, error)) error {
	return errStoreDown
}

func (downKV) Update(context.Context, string, func(string, bool) (string, error)) (string, error) {
	return "", errStoreDown
}

// An unreachable store must surface as an error, never read as "no
// override": mistaking the two would let provider truth clobber intent.
func TestOverrideStoreSurfacesBackendFailure(t *testing.T) {
	ctx := context.Background()
	store := NewOverrideStore(downKV{})

	got, err := store.Get(ctx, "u1", domain.ProviderGmail, "m1")
	if err == nil {
		t.Fatal("get with store down returned no error")
	}
	if got != nil {
		t.Fatalf("get with store down returned an override: %+v", got)
	}
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("get error lost its cause: %v", err)
	}

	if err := store.Set(ctx, "u1", domain.ProviderGmail, "m1", domain.StateRead); err == nil {
		t.Fatal("set with store down returned no error")
	}
	if err := store.Clear(ctx, "u1", domain.ProviderGmail, "m1"); err == nil {
		t.Fatal("clear with store down returned no error")
	}
	if err := store.MarkStale(ctx, "u1", domain.ProviderGmail, "m1"); err == nil {
		t.Fatal("mark stale with store down returned no error")
	}
	if _, err := store.Deltas(ctx, "u1", domain.ProviderGmail); err == nil {
		t.Fatal("deltas with store down returned no error")
	}
	if err := store.ClearStale(ctx, "u1", domain.ProviderGmail); err == nil {
		t.Fatal("clear stale with store down returned no error")
	}
}

func TestStatsCacheSurfacesBackendFailure(t *testing.T) {
	ctx := context.Background()
	cache := NewStatsCache(downKV{})

	snap, err := cache.Get(ctx, "u1", domain.ProviderGmail)
	if err == nil {
		t.Fatal("get with store down returned no error")
	}
	if snap != nil {
		t.Fatalf("get with store down returned a snapshot: %+v", snap)
	}

	if err := cache.Set(ctx, "u1", domain.ProviderGmail, domain.StatsSnapshot{Unread: 1, Total: 2}); err == nil {
		t.Fatal("set with store down returned no error")
	}
	if _, err := cache.ApplyDelta(ctx, "u1", domain.ProviderGmail, -1, 0); err == nil {
		t.Fatal("apply delta with store down returned no error")
	}
	if err := cache.Invalidate(ctx, "u1", domain.ProviderGmail); err == nil {
		t.Fatal("invalidate with store down returned no error")
	}
}
