package domain

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies a mail provider account type
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderYahoo   Provider = "yahoo"
)

// ParseProvider validates a provider name coming from a request
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGmail, ProviderOutlook, ProviderYahoo:
		return Provider(s), nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrValidation, s)
}

// ReadState is the user-visible read/unread state of a message
type ReadState string

const (
	StateRead   ReadState = "read"
	StateUnread ReadState = "unread"
)

// MailboxCounts holds authoritative counters derived directly from the provider
type MailboxCounts struct {
	Unread int
	Total  int
}

// TokenUpdateFunc is invoked when a provider refreshes the access token
// so the new token can be persisted
type TokenUpdateFunc func(accessToken, refreshToken string) error

// Credential carries the access material for one (user, provider) account.
// OAuth providers use the token fields; IMAP providers use Email/Password.
type Credential struct {
	Email        string
	AccessToken  string
	RefreshToken string
	Password     string
	OnRefresh    TokenUpdateFunc
}

// ProviderMailbox is the narrow capability contract the sync core consumes.
// Implementations exist per provider (Gmail, Outlook, Yahoo IMAP) and must
// translate provider failures into the error taxonomy of this package.
type ProviderMailbox interface {
	// FetchCounts recomputes {unread, total} from provider truth
	FetchCounts(ctx context.Context, cred *Credential) (MailboxCounts, error)

	// SetReadState applies the actual read/unread mutation
	SetReadState(ctx context.Context, cred *Credential, messageID string, state ReadState) error

	// DeleteMessage removes (trashes) a message
	DeleteMessage(ctx context.Context, cred *Credential, messageID string) error
}

// CredentialProvider supplies a valid, possibly-refreshed credential for a
// (user, provider) pair. Refresh is opaque to the sync core.
type CredentialProvider interface {
	Credential(ctx context.Context, userID string, provider Provider) (*Credential, error)
}

// StatsSnapshot is the cached {unread, total} pair shown in UI counters
type StatsSnapshot struct {
	Unread     int       `json:"unread"`
	Total      int       `json:"total"`
	ComputedAt time.Time `json:"computed_at"`
}

// Override records a locally-asserted read state for one message that has
// not yet been confirmed by the provider
type Override struct {
	UserID     string           `json:"-"`
	Provider   Provider         `json:"-"`
	MessageID  string           `json:"-"`
	State      ReadState        `json:"state"`
	AssertedAt time.Time        `json:"asserted_at"`
	// Stale marks an override whose provider confirmation failed terminally.
	// It is kept for per-message UI state but no longer adjusts counts; the
	// next authoritative recompute supersedes and clears it.
	Stale bool `json:"stale,omitempty"`
}

// OverrideDeltas is the per-direction cardinality of a user's active overrides
type OverrideDeltas struct {
	ForceRead   int
	ForceUnread int
}

// ApplyOverrides adjusts a provider-derived snapshot for local intent that
// the provider has not confirmed yet. Idempotent for a fixed set of deltas:
// applying it twice to the same truth yields the same result as once.
func ApplyOverrides(truth StatsSnapshot, d OverrideDeltas) StatsSnapshot {
	unread := truth.Unread - d.ForceRead + d.ForceUnread
	if unread < 0 {
		unread = 0
	}
	if unread > truth.Total {
		unread = truth.Total
	}
	return StatsSnapshot{
		Unread:     unread,
		Total:      truth.Total,
		ComputedAt: truth.ComputedAt,
	}
}
