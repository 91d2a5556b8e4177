package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailhub-backend/internal/mailsync/broadcast"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/repository"
	"mailhub-backend/pkg/ratelimit"
)

// slowMailbox counts in-flight FetchCounts calls and can fail on demand
type slowMailbox struct {
	delay time.Duration

	mu        sync.Mutex
	counts    domain.MailboxCounts
	countsErr error

	inFlight    int32
	maxInFlight int32
	fetchCalls  int32
}

func (f *slowMailbox) FetchCounts(ctx context.Context, _ *domain.Credential) (domain.MailboxCounts, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, cur) {
			break
		}
	}
	atomic.AddInt32(&f.fetchCalls, 1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.MailboxCounts{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, f.countsErr
}

func (f *slowMailbox) SetReadState(context.Context, *domain.Credential, string, domain.ReadState) error {
	return nil
}

func (f *slowMailbox) DeleteMessage(context.Context, *domain.Credential, string) error {
	return nil
}

type staticCreds struct {
	err error
}

func (c *staticCreds) Credential(context.Context, string, domain.Provider) (*domain.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Credential{Email: "user@example.com", AccessToken: "token"}, nil
}

type pollSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *pollSink) Name() string { return "sink" }

func (s *pollSink) Deliver(_ context.Context, _ string, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *pollSink) countUpdates() []domain.CountUpdated {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CountUpdated
	for _, e := range s.events {
		if cu, ok := e.(domain.CountUpdated); ok {
			out = append(out, cu)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, cfg Config, mailbox domain.ProviderMailbox, creds domain.CredentialProvider) (*Manager, *repository.StatsCache, *repository.OverrideStore, *pollSink) {
	t.Helper()
	kv := repository.NewMemoryKV()
	stats := repository.NewStatsCache(kv)
	overrides := repository.NewOverrideStore(kv)
	limiter := ratelimit.New(ratelimit.NewMemoryCounter(),
		ratelimit.Limits{Requests: 10000, Window: time.Minute},
		ratelimit.Limits{Requests: 10000, Window: time.Minute},
	)
	sink := &pollSink{}
	dispatcher := broadcast.NewDispatcher(kv, 10*time.Millisecond)
	dispatcher.Register(sink)

	m := NewManager(cfg, creds, map[domain.Provider]domain.ProviderMailbox{domain.ProviderGmail: mailbox}, stats, overrides, limiter, dispatcher)
	t.Cleanup(m.StopAll)
	return m, stats, overrides, sink
}

func TestPollerPrimesAndBroadcasts(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 4, Total: 20}}
	m, stats, _, sink := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, "primed cache", func() bool {
		snap, err := stats.Get(context.Background(), "u1", domain.ProviderGmail)
		return err == nil && snap != nil && snap.Unread == 4
	})

	cus := sink.countUpdates()
	if len(cus) != 1 || cus[0].Source != domain.SourceExternalChange {
		t.Fatalf("count updates = %+v, want one external_change", cus)
	}

	state, ok := m.State("u1", domain.ProviderGmail)
	if !ok || !state.Active || state.Status != StatusRunning {
		t.Fatalf("state = %+v, want running", state)
	}
	if state.LastSnapshot == nil || state.LastSnapshot.Unread != 4 {
		t.Fatalf("last snapshot = %+v", state.LastSnapshot)
	}
}

// Ticks for one pair execute inline in the runner goroutine, so a slow
// provider call can never overlap the next tick.
func TestPollerTicksNeverOverlap(t *testing.T) {
	mailbox := &slowMailbox{
		delay:  30 * time.Millisecond,
		counts: domain.MailboxCounts{Unread: 1, Total: 2},
	}
	m, _, _, _ := newTestManager(t, Config{Interval: 5 * time.Millisecond}, mailbox, &staticCreds{})

	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 2*time.Second, "several ticks", func() bool {
		return atomic.LoadInt32(&mailbox.fetchCalls) >= 5
	})
	m.Stop("u1", domain.ProviderGmail)

	if max := atomic.LoadInt32(&mailbox.maxInFlight); max > 1 {
		t.Fatalf("observed %d concurrent ticks for one pair", max)
	}
}

// An expired credential stops the runner instead of hot-looping failures.
func TestPollerStopsOnAuthExpiry(t *testing.T) {
	mailbox := &slowMailbox{countsErr: domain.ErrAuthExpired}
	m, _, _, _ := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, "auth stop", func() bool {
		state, ok := m.State("u1", domain.ProviderGmail)
		return ok && state.Status == StatusStoppedAuth
	})

	state, _ := m.State("u1", domain.ProviderGmail)
	if state.Active {
		t.Fatal("runner still active after auth expiry")
	}
	// A stopped runner ignores nudges.
	if m.Nudge("u1", domain.ProviderGmail) {
		t.Fatal("nudge accepted by auth-stopped runner")
	}

	// A new start request replaces the stopped record.
	mailbox.mu.Lock()
	mailbox.countsErr = nil
	mailbox.mu.Unlock()
	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, time.Second, "restart", func() bool {
		state, ok := m.State("u1", domain.ProviderGmail)
		return ok && state.Status == StatusRunning
	})
}

func TestPollerStartIdempotent(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 1, Total: 2}}
	m, _, _, _ := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Start(ctx, "u1", domain.ProviderGmail); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, "prime tick", func() bool {
		return atomic.LoadInt32(&mailbox.fetchCalls) >= 1
	})
	// With an hour-long interval, only the single prime tick may have fired;
	// extra runners would show as extra fetches.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&mailbox.fetchCalls); got != 1 {
		t.Fatalf("fetch calls = %d, want 1 (duplicate runners)", got)
	}
}

func TestPollerNudgeTriggersTick(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 1, Total: 2}}
	m, _, _, _ := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, "prime tick", func() bool {
		return atomic.LoadInt32(&mailbox.fetchCalls) == 1
	})

	if !m.Nudge("u1", domain.ProviderGmail) {
		t.Fatal("nudge rejected for running pair")
	}
	waitFor(t, time.Second, "nudged tick", func() bool {
		return atomic.LoadInt32(&mailbox.fetchCalls) == 2
	})

	if m.Nudge("u2", domain.ProviderGmail) {
		t.Fatal("nudge accepted for unknown pair")
	}
}

// In-flight overrides still count during polls: provider truth is reconciled
// with local intent before comparison and broadcast.
func TestPollerAppliesOverrides(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 10, Total: 50}}
	m, stats, overrides, _ := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := overrides.Set(ctx, "u1", domain.ProviderGmail, id, domain.StateRead); err != nil {
			t.Fatalf("seed override: %v", err)
		}
	}

	if err := m.Start(ctx, "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, "reconciled snapshot", func() bool {
		snap, err := stats.Get(ctx, "u1", domain.ProviderGmail)
		return err == nil && snap != nil && snap.Unread == 7 && snap.Total == 50
	})
}

// A terminally-failed mutation leaves a stale override and an optimistic
// count behind; the next tick must report provider truth, broadcast the
// correction as an external change, and retire the dead override.
func TestPollerCorrectsStaleOverride(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 10, Total: 50}}
	m, stats, overrides, sink := newTestManager(t, Config{Interval: time.Hour}, mailbox, &staticCreds{})

	ctx := context.Background()
	// State after a mark-read whose provider call exhausted its retries:
	// the cached counter still carries the optimistic -1.
	if err := stats.Set(ctx, "u1", domain.ProviderGmail, domain.StatsSnapshot{Unread: 9, Total: 50}); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
	if err := overrides.Set(ctx, "u1", domain.ProviderGmail, "m1", domain.StateRead); err != nil {
		t.Fatalf("seed override: %v", err)
	}
	if err := overrides.MarkStale(ctx, "u1", domain.ProviderGmail, "m1"); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	if err := m.Start(ctx, "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, "corrected snapshot", func() bool {
		snap, err := stats.Get(ctx, "u1", domain.ProviderGmail)
		return err == nil && snap != nil && snap.Unread == 10 && snap.Total == 50
	})

	waitFor(t, time.Second, "corrective broadcast", func() bool {
		cus := sink.countUpdates()
		return len(cus) == 1 && cus[0].Unread == 10 && cus[0].Total == 50 &&
			cus[0].Source == domain.SourceExternalChange
	})

	o, err := overrides.Get(ctx, "u1", domain.ProviderGmail, "m1")
	if err != nil {
		t.Fatalf("get override: %v", err)
	}
	if o != nil {
		t.Fatalf("stale override survived the tick: %+v", o)
	}
}

// No broadcast when successive polls agree with the cached snapshot.
func TestPollerQuietWhenUnchanged(t *testing.T) {
	mailbox := &slowMailbox{counts: domain.MailboxCounts{Unread: 3, Total: 9}}
	m, _, _, sink := newTestManager(t, Config{Interval: 5 * time.Millisecond}, mailbox, &staticCreds{})

	if err := m.Start(context.Background(), "u1", domain.ProviderGmail); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, "several ticks", func() bool {
		return atomic.LoadInt32(&mailbox.fetchCalls) >= 4
	})
	m.Stop("u1", domain.ProviderGmail)

	if cus := sink.countUpdates(); len(cus) != 1 {
		t.Fatalf("count updates = %d, want 1 (only the first)", len(cus))
	}
}
