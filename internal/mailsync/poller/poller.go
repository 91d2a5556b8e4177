package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mailhub-backend/internal/mailsync/broadcast"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/repository"
	"mailhub-backend/pkg/ratelimit"
)

// Status is the lifecycle state of one sync runner
type Status string

const (
	StatusRunning Status = "running"
	// StatusStoppedAuth is terminal until a new start request arrives:
	// polling against a broken credential would hot-loop failures.
	StatusStoppedAuth Status = "stopped_auth"
	StatusStopped     Status = "stopped"
)

// SyncState is the bookkeeping exposed for one (user, provider) runner
type SyncState struct {
	Active       bool                  `json:"active"`
	Status       Status                `json:"status"`
	StartedAt    time.Time             `json:"started_at"`
	LastPolledAt time.Time             `json:"last_polled_at"`
	LastSnapshot *domain.StatsSnapshot `json:"last_snapshot,omitempty"`
}

// Config tunes the poller
type Config struct {
	Interval    time.Duration // tick interval, default 10s
	CallTimeout time.Duration // per provider call, default 30s
	IdleAfter   time.Duration // cooperative teardown after inactivity
}

func (c *Config) norm() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 10 * time.Minute
	}
}

// Manager owns one background runner per actively-viewed (user, provider)
// pair. Each runner periodically recomputes authoritative counts, adjusts
// them for unconfirmed local overrides, and broadcasts only on drift.
type Manager struct {
	cfg        Config
	creds      domain.CredentialProvider
	mailboxes  map[domain.Provider]domain.ProviderMailbox
	stats      *repository.StatsCache
	overrides  *repository.OverrideStore
	limiter    *ratelimit.Limiter
	dispatcher *broadcast.Dispatcher

	mu      sync.RWMutex
	runners map[string]*runner

	stopOnce sync.Once
	stopCh   chan struct{}
}

type runner struct {
	userID   string
	provider domain.Provider
	cancel   context.CancelFunc
	nudge    chan struct{}

	mu           sync.Mutex
	status       Status
	startedAt    time.Time
	lastPolledAt time.Time
	lastActivity time.Time
	lastSnapshot *domain.StatsSnapshot
}

// NewManager creates a poller manager; Run starts the idle janitor.
func NewManager(cfg Config, creds domain.CredentialProvider, mailboxes map[domain.Provider]domain.ProviderMailbox, stats *repository.StatsCache, overrides *repository.OverrideStore, limiter *ratelimit.Limiter, dispatcher *broadcast.Dispatcher) *Manager {
	cfg.norm()
	return &Manager{
		cfg:        cfg,
		creds:      creds,
		mailboxes:  mailboxes,
		stats:      stats,
		overrides:  overrides,
		limiter:    limiter,
		dispatcher: dispatcher,
		runners:    make(map[string]*runner),
		stopCh:     make(chan struct{}),
	}
}

func runnerKey(userID string, provider domain.Provider) string {
	return fmt.Sprintf("%s:%s", userID, provider)
}

// Start launches (or restarts, after Stopped) the runner for one pair.
// Idempotent: starting an already-running pair only records activity.
func (m *Manager) Start(ctx context.Context, userID string, provider domain.Provider) error {
	mailbox, ok := m.mailboxes[provider]
	if !ok {
		return fmt.Errorf("%w: no mailbox adapter for provider %s", domain.ErrValidation, provider)
	}

	key := runnerKey(userID, provider)

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, exists := m.runners[key]; exists {
		if r.snapshot().Active {
			r.touch()
			return nil
		}
		// Stopped runner: drop the record and start fresh below.
		delete(m.runners, key)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{
		userID:       userID,
		provider:     provider,
		cancel:       cancel,
		nudge:        make(chan struct{}, 1),
		status:       StatusRunning,
		startedAt:    time.Now(),
		lastActivity: time.Now(),
	}
	m.runners[key] = r

	go m.run(runCtx, r, mailbox)
	log.Printf("[Poller] sync start: %s", key)
	return nil
}

// Stop cancels the runner for one pair
func (m *Manager) Stop(userID string, provider domain.Provider) {
	key := runnerKey(userID, provider)
	m.mu.Lock()
	r, ok := m.runners[key]
	if ok {
		delete(m.runners, key)
	}
	m.mu.Unlock()
	if ok {
		r.cancel()
		log.Printf("[Poller] sync stop: %s", key)
	}
}

// StopAll cancels every runner (shutdown)
func (m *Manager) StopAll() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.runners {
		r.cancel()
		delete(m.runners, key)
	}
}

// Nudge asks a running poller to tick ahead of schedule and reports whether
// one was listening. Coalesced: a pending nudge absorbs further ones.
func (m *Manager) Nudge(userID string, provider domain.Provider) bool {
	m.mu.RLock()
	r, ok := m.runners[runnerKey(userID, provider)]
	m.mu.RUnlock()
	if !ok || !r.snapshot().Active {
		return false
	}
	select {
	case r.nudge <- struct{}{}:
	default:
	}
	return true
}

// Touch records user activity so the idle janitor keeps the runner alive
func (m *Manager) Touch(userID string, provider domain.Provider) {
	m.mu.RLock()
	r, ok := m.runners[runnerKey(userID, provider)]
	m.mu.RUnlock()
	if ok {
		r.touch()
	}
}

// State reports the bookkeeping for one pair
func (m *Manager) State(userID string, provider domain.Provider) (SyncState, bool) {
	m.mu.RLock()
	r, ok := m.runners[runnerKey(userID, provider)]
	m.mu.RUnlock()
	if !ok {
		return SyncState{}, false
	}
	return r.snapshot(), true
}

// Run blocks on the idle janitor until StopAll; call in a goroutine
func (m *Manager) Run() {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-sweep.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleAfter)
	m.mu.Lock()
	var idle []*runner
	for key, r := range m.runners {
		r.mu.Lock()
		inactive := r.lastActivity.Before(cutoff)
		r.mu.Unlock()
		if inactive {
			idle = append(idle, r)
			delete(m.runners, key)
		}
	}
	m.mu.Unlock()
	for _, r := range idle {
		r.cancel()
		log.Printf("[Poller] idle teardown: %s:%s", r.userID, r.provider)
	}
}

// run is the per-pair loop. Ticks execute inline so two ticks for the same
// pair can never overlap; a tick that outlives its interval simply delays
// the next one.
func (m *Manager) run(ctx context.Context, r *runner, mailbox domain.ProviderMailbox) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// Prime the cache immediately so a fresh view gets counters without
	// waiting a full interval.
	if err := m.tick(ctx, r, mailbox); errors.Is(err, domain.ErrAuthExpired) {
		r.setStatus(StatusStoppedAuth)
		log.Printf("[Poller] auth expired for %s:%s, poller stopped until re-auth", r.userID, r.provider)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.setStatus(StatusStopped)
			return
		case <-ticker.C:
		case <-r.nudge:
		}
		if err := m.tick(ctx, r, mailbox); errors.Is(err, domain.ErrAuthExpired) {
			r.setStatus(StatusStoppedAuth)
			log.Printf("[Poller] auth expired for %s:%s, poller stopped until re-auth", r.userID, r.provider)
			return
		}
	}
}

// tick performs one authoritative recompute. Errors other than auth expiry
// leave the prior snapshot untouched and are retried on the next tick.
func (m *Manager) tick(ctx context.Context, r *runner, mailbox domain.ProviderMailbox) error {
	if res := m.limiter.AllowProviderScope(ctx, string(r.provider)); !res.Allowed {
		// Quota exhausted: silently retried next tick.
		return nil
	}

	cred, err := m.creds.Credential(ctx, r.userID, r.provider)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return err
		}
		log.Printf("[Poller] credential error for %s:%s: %v", r.userID, r.provider, err)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	counts, err := mailbox.FetchCounts(callCtx, cred)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return err
		}
		log.Printf("[Poller] fetch counts failed for %s:%s: %v", r.userID, r.provider, err)
		return nil
	}

	deltas, err := m.overrides.Deltas(ctx, r.userID, r.provider)
	if err != nil {
		// Never let provider truth clobber unknown local intent.
		log.Printf("[Poller] override store error for %s:%s, skipping tick: %v", r.userID, r.provider, err)
		return nil
	}

	truth := domain.StatsSnapshot{Unread: counts.Unread, Total: counts.Total, ComputedAt: time.Now()}
	adjusted := domain.ApplyOverrides(truth, deltas)

	// Fresh truth supersedes terminally-failed intent; deltas above already
	// excluded it, so a failure here only delays the garbage collection.
	if err := m.overrides.ClearStale(ctx, r.userID, r.provider); err != nil {
		log.Printf("[Poller] clear stale overrides failed for %s:%s: %v", r.userID, r.provider, err)
	}

	prev, err := m.stats.Get(ctx, r.userID, r.provider)
	if err != nil {
		log.Printf("[Poller] stats cache error for %s:%s, skipping tick: %v", r.userID, r.provider, err)
		return nil
	}

	now := time.Now()
	if prev != nil && prev.Unread == adjusted.Unread && prev.Total == adjusted.Total {
		r.polled(now, prev)
		return nil
	}

	if err := m.stats.Set(ctx, r.userID, r.provider, adjusted); err != nil {
		log.Printf("[Poller] stats write failed for %s:%s: %v", r.userID, r.provider, err)
		return nil
	}
	r.polled(now, &adjusted)

	m.dispatcher.Emit(ctx, r.userID, domain.CountUpdated{
		Unread: adjusted.Unread,
		Total:  adjusted.Total,
		Source: domain.SourceExternalChange,
	})
	return nil
}

func (r *runner) touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

func (r *runner) polled(at time.Time, snap *domain.StatsSnapshot) {
	r.mu.Lock()
	r.lastPolledAt = at
	if snap != nil {
		copied := *snap
		r.lastSnapshot = &copied
	}
	r.mu.Unlock()
}

func (r *runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *runner) snapshot() SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := SyncState{
		Active:       r.status == StatusRunning,
		Status:       r.status,
		StartedAt:    r.startedAt,
		LastPolledAt: r.lastPolledAt,
	}
	if r.lastSnapshot != nil {
		copied := *r.lastSnapshot
		state.LastSnapshot = &copied
	}
	return state
}
