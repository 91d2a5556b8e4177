package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mailhub-backend/internal/mailsync/broadcast"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/repository"
	"mailhub-backend/pkg/ratelimit"
)

// Nudger lets the coordinator coalesce its post-action recompute with an
// imminent poller tick instead of issuing a redundant provider call
type Nudger interface {
	Nudge(userID string, provider domain.Provider) bool
}

// Coordinator orchestrates one state-changing user action: the override is
// written and the counter updated before any provider round-trip, so the UI
// reflects the action instantly; the provider mutation runs in the
// background with bounded retries, and an authoritative recompute corrects
// any drift once the batch settles.
type Coordinator struct {
	overrides  *repository.OverrideStore
	stats      *repository.StatsCache
	limiter    *ratelimit.Limiter
	dispatcher *broadcast.Dispatcher
	queue      *ActionQueue
	mailboxes  map[domain.Provider]domain.ProviderMailbox
	creds      domain.CredentialProvider
	poller     Nudger

	callTimeout time.Duration
	maxAttempts int
}

// NewCoordinator wires the action coordinator
func NewCoordinator(
	overrides *repository.OverrideStore,
	stats *repository.StatsCache,
	limiter *ratelimit.Limiter,
	dispatcher *broadcast.Dispatcher,
	queue *ActionQueue,
	mailboxes map[domain.Provider]domain.ProviderMailbox,
	creds domain.CredentialProvider,
	callTimeout time.Duration,
	maxAttempts int,
) *Coordinator {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Coordinator{
		overrides:   overrides,
		stats:       stats,
		limiter:     limiter,
		dispatcher:  dispatcher,
		queue:       queue,
		mailboxes:   mailboxes,
		creds:       creds,
		callTimeout: callTimeout,
		maxAttempts: maxAttempts,
	}
}

// SetPoller wires the poller after creation (both depend on shared stores)
func (c *Coordinator) SetPoller(p Nudger) {
	c.poller = p
}

// MarkRead marks a batch of messages read
func (c *Coordinator) MarkRead(ctx context.Context, userID string, provider domain.Provider, messageIDs []string) (*domain.StatsSnapshot, error) {
	return c.setReadState(ctx, userID, provider, messageIDs, domain.StateRead)
}

// MarkUnread marks a batch of messages unread
func (c *Coordinator) MarkUnread(ctx context.Context, userID string, provider domain.Provider, messageIDs []string) (*domain.StatsSnapshot, error) {
	return c.setReadState(ctx, userID, provider, messageIDs, domain.StateUnread)
}

func (c *Coordinator) setReadState(ctx context.Context, userID string, provider domain.Provider, messageIDs []string, state domain.ReadState) (*domain.StatsSnapshot, error) {
	mailbox, err := c.validate(userID, provider, messageIDs)
	if err != nil {
		return nil, err
	}

	// Count only messages not already asserted to the target state so a
	// repeated action cannot double-apply its delta. Messages with no
	// override are counted; the authoritative poller corrects any
	// overcount from ones the provider already had in the target state.
	affected := 0
	for _, id := range messageIDs {
		current, err := c.overrides.Get(ctx, userID, provider, id)
		if err != nil {
			return nil, err
		}
		if current == nil || current.State != state {
			affected++
		}
		if err := c.overrides.Set(ctx, userID, provider, id, state); err != nil {
			return nil, err
		}
	}

	unreadDelta := -affected
	if state == domain.StateUnread {
		unreadDelta = affected
	}
	snap, err := c.stats.ApplyDelta(ctx, userID, provider, unreadDelta, 0)
	if err != nil {
		return nil, err
	}

	c.dispatcher.Emit(ctx, userID, domain.CountUpdated{
		Unread: snap.Unread,
		Total:  snap.Total,
		Source: domain.SourceUserAction,
	})
	for _, id := range messageIDs {
		c.dispatcher.Emit(ctx, userID, domain.EmailUpdated{
			ID:     id,
			IsRead: state == domain.StateRead,
			Source: domain.SourceUserAction,
		})
	}

	batch := c.newBatch(userID, provider, len(messageIDs))
	for _, id := range messageIDs {
		c.scheduleReadMutation(userID, provider, mailbox, id, state, batch)
	}
	return &snap, nil
}

// Delete removes a batch of messages. Overrides are cleared up front: a
// deleted message has no read state left to reconcile.
func (c *Coordinator) Delete(ctx context.Context, userID string, provider domain.Provider, messageIDs []string) (*domain.StatsSnapshot, error) {
	mailbox, err := c.validate(userID, provider, messageIDs)
	if err != nil {
		return nil, err
	}

	unreadDelta := 0
	for _, id := range messageIDs {
		current, err := c.overrides.Get(ctx, userID, provider, id)
		if err != nil {
			return nil, err
		}
		if current != nil && current.State == domain.StateUnread {
			unreadDelta--
		}
		if err := c.overrides.Clear(ctx, userID, provider, id); err != nil {
			return nil, err
		}
	}

	snap, err := c.stats.ApplyDelta(ctx, userID, provider, unreadDelta, -len(messageIDs))
	if err != nil {
		return nil, err
	}

	c.dispatcher.Emit(ctx, userID, domain.CountUpdated{
		Unread: snap.Unread,
		Total:  snap.Total,
		Source: domain.SourceUserAction,
	})
	for _, id := range messageIDs {
		c.dispatcher.Emit(ctx, userID, domain.EmailDeleted{
			ID:     id,
			Reason: "user_delete",
			Source: domain.SourceUserAction,
		})
	}

	batch := c.newBatch(userID, provider, len(messageIDs))
	for _, id := range messageIDs {
		c.scheduleDeleteMutation(userID, provider, mailbox, id, batch)
	}
	return &snap, nil
}

// Invalidate drops cached state for a pair (logout, manual reset)
func (c *Coordinator) Invalidate(ctx context.Context, userID string, provider domain.Provider) error {
	if err := c.overrides.ClearAll(ctx, userID, provider); err != nil {
		return err
	}
	return c.stats.Invalidate(ctx, userID, provider)
}

// Recompute fetches authoritative counts now, reconciles them with local
// overrides, overwrites the cache, and broadcasts on change. Used both for
// on-demand stats reads and as the post-action drift correction.
func (c *Coordinator) Recompute(ctx context.Context, userID string, provider domain.Provider) (*domain.StatsSnapshot, error) {
	mailbox, ok := c.mailboxes[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no mailbox adapter for provider %s", domain.ErrValidation, provider)
	}

	if res := c.limiter.AllowProviderScope(ctx, string(provider)); !res.Allowed {
		return nil, domain.ErrRateLimited
	}

	cred, err := c.creds.Credential(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	counts, err := mailbox.FetchCounts(callCtx, cred)
	cancel()
	if err != nil {
		return nil, err
	}

	deltas, err := c.overrides.Deltas(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	truth := domain.StatsSnapshot{Unread: counts.Unread, Total: counts.Total, ComputedAt: time.Now()}
	adjusted := domain.ApplyOverrides(truth, deltas)

	// Fresh truth supersedes terminally-failed intent; deltas above already
	// excluded it, so a failure here only delays the garbage collection.
	if err := c.overrides.ClearStale(ctx, userID, provider); err != nil {
		log.Printf("[Coordinator] clear stale overrides failed for %s:%s: %v", userID, provider, err)
	}

	prev, err := c.stats.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if err := c.stats.Set(ctx, userID, provider, adjusted); err != nil {
		return nil, err
	}

	if prev == nil || prev.Unread != adjusted.Unread || prev.Total != adjusted.Total {
		c.dispatcher.Emit(ctx, userID, domain.CountUpdated{
			Unread: adjusted.Unread,
			Total:  adjusted.Total,
			Source: domain.SourceExternalChange,
		})
	}
	return &adjusted, nil
}

func (c *Coordinator) validate(userID string, provider domain.Provider, messageIDs []string) (domain.ProviderMailbox, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", domain.ErrValidation)
	}
	mailbox, ok := c.mailboxes[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no mailbox adapter for provider %s", domain.ErrValidation, provider)
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("%w: empty message batch", domain.ErrValidation)
	}
	for _, id := range messageIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: empty message id in batch", domain.ErrValidation)
		}
	}
	return mailbox, nil
}

// newBatch returns the settle callback shared by one batch of mutations:
// after every provider call settles (success or exhausted retries), one
// authoritative recompute corrects whatever drift the optimistic delta
// introduced.
func (c *Coordinator) newBatch(userID string, provider domain.Provider, size int) func() {
	remaining := int32(size)
	return func() {
		if atomic.AddInt32(&remaining, -1) != 0 {
			return
		}
		c.deferRecompute(userID, provider)
	}
}

// deferRecompute coalesces with a running poller when possible; otherwise
// a low-priority recompute is queued.
func (c *Coordinator) deferRecompute(userID string, provider domain.Provider) {
	if c.poller != nil && c.poller.Nudge(userID, provider) {
		return
	}
	job := &Job{
		ID:          uuid.NewString(),
		Description: fmt.Sprintf("recompute %s:%s", userID, provider),
		Priority:    PriorityLow,
		MaxAttempts: c.maxAttempts,
		Run: func(ctx context.Context) error {
			_, err := c.Recompute(ctx, userID, provider)
			return err
		},
	}
	if err := c.queue.Submit(job); err != nil {
		log.Printf("[Coordinator] failed to queue recompute for %s:%s: %v", userID, provider, err)
	}
}

func (c *Coordinator) scheduleReadMutation(userID string, provider domain.Provider, mailbox domain.ProviderMailbox, messageID string, state domain.ReadState, settled func()) {
	job := &Job{
		ID:          uuid.NewString(),
		Description: fmt.Sprintf("set %s %s:%s/%s", state, userID, provider, messageID),
		Priority:    PriorityHigh,
		MaxAttempts: c.maxAttempts,
		Run: func(ctx context.Context) error {
			if res := c.limiter.AllowProviderCall(ctx, userID, string(provider)); !res.Allowed {
				return fmt.Errorf("%w by %s scope", domain.ErrRateLimited, res.LimitedBy)
			}
			cred, err := c.creds.Credential(ctx, userID, provider)
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			if err := mailbox.SetReadState(callCtx, cred, messageID, state); err != nil {
				return err
			}
			// Truth now matches intent; the override has done its job.
			return c.overrides.Clear(ctx, userID, provider, messageID)
		},
		OnSettled: func(err error) {
			if err != nil {
				// UI keeps showing what the user asked for, but the override
				// stops adjusting counts; the next authoritative recompute
				// reconciles the counters with reality and drops it.
				if markErr := c.overrides.MarkStale(context.Background(), userID, provider, messageID); markErr != nil {
					log.Printf("[Coordinator] failed to mark override stale for %s: %v", messageID, markErr)
				}
			}
			settled()
		},
	}
	if err := c.queue.Submit(job); err != nil {
		log.Printf("[Coordinator] failed to queue mutation for %s: %v", messageID, err)
		settled()
	}
}

func (c *Coordinator) scheduleDeleteMutation(userID string, provider domain.Provider, mailbox domain.ProviderMailbox, messageID string, settled func()) {
	job := &Job{
		ID:          uuid.NewString(),
		Description: fmt.Sprintf("delete %s:%s/%s", userID, provider, messageID),
		Priority:    PriorityMedium,
		MaxAttempts: c.maxAttempts,
		Run: func(ctx context.Context) error {
			if res := c.limiter.AllowProviderCall(ctx, userID, string(provider)); !res.Allowed {
				return fmt.Errorf("%w by %s scope", domain.ErrRateLimited, res.LimitedBy)
			}
			cred, err := c.creds.Credential(ctx, userID, provider)
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			return mailbox.DeleteMessage(callCtx, cred, messageID)
		},
		OnSettled: func(err error) {
			if err != nil && !errors.Is(err, domain.ErrAuthExpired) {
				log.Printf("[Coordinator] delete of %s/%s never confirmed: %v", provider, messageID, err)
			}
			settled()
		},
	}
	if err := c.queue.Submit(job); err != nil {
		log.Printf("[Coordinator] failed to queue delete for %s: %v", messageID, err)
		settled()
	}
}
