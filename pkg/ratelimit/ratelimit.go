// Package ratelimit provides sliding-window admission control for outbound
// provider calls. Two scopes compose: a per-user window keeps one user from
// starving others, and a global-per-provider window protects the shared API
// quota. The limiter fails open when its counter store is unreachable;
// mail access availability beats perfect quota enforcement.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Scope names which window an admission check ran against
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeProvider Scope = "provider"
)

// Limits describes one sliding window
type Limits struct {
	Requests int
	Window   time.Duration
}

// Result reports an admission decision. LimitedBy is set only on denial so
// callers can log or back off against the right scope.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	LimitedBy Scope
}

// CounterStore records admitted requests within a trailing window. Allow
// must be a single atomic increment-and-check: only admitted requests are
// counted, and concurrent calls for the same key must serialize correctly.
type CounterStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, resetAt time.Time, err error)
}

// Limiter gates provider calls on composed per-user and per-provider windows
type Limiter struct {
	store          CounterStore
	userLimits     Limits
	providerLimits Limits
}

// New creates a Limiter
func New(store CounterStore, userLimits, providerLimits Limits) *Limiter {
	return &Limiter{store: store, userLimits: userLimits, providerLimits: providerLimits}
}

// CheckLimit runs one scope's window. On counter-store failure the request
// is allowed (fail open) and the incident logged.
func (l *Limiter) CheckLimit(ctx context.Context, scope Scope, identifier string, limits Limits) Result {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, identifier)
	allowed, remaining, resetAt, err := l.store.Allow(ctx, key, limits.Requests, limits.Window)
	if err != nil {
		log.Printf("[RateLimit] counter store unavailable, failing open for %s: %v", key, err)
		return Result{Allowed: true, Remaining: limits.Requests}
	}
	res := Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}
	if !allowed {
		res.LimitedBy = scope
	}
	return res
}

// AllowProviderCall composes both scopes; the call is admitted only when
// the per-user and the global provider windows both pass. The user slot is
// consumed even when the provider window then denies; conservative, and
// corrected as the user window slides.
func (l *Limiter) AllowProviderCall(ctx context.Context, userID, provider string) Result {
	user := l.CheckLimit(ctx, ScopeUser, userID, l.userLimits)
	if !user.Allowed {
		return user
	}
	prov := l.CheckLimit(ctx, ScopeProvider, provider, l.providerLimits)
	if !prov.Allowed {
		return prov
	}
	if user.Remaining < prov.Remaining {
		prov.Remaining = user.Remaining
	}
	return prov
}

// AllowProviderScope runs only the global provider window; the poller uses
// this so background ticks never consume a user's action budget.
func (l *Limiter) AllowProviderScope(ctx context.Context, provider string) Result {
	return l.CheckLimit(ctx, ScopeProvider, provider, l.providerLimits)
}

// UserWindow exposes the configured per-user window (retry scheduling)
func (l *Limiter) UserWindow() time.Duration {
	return l.userLimits.Window
}
