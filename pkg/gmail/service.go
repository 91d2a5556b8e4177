package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailhub-backend/internal/mailsync/domain"
)

// Service implements the Gmail mailbox capability. A new API client is
// built per call from the user's tokens; the wrapped token source reports
// refreshes back through the credential's callback so the new token is
// persisted.
type Service struct {
	clientID     string
	clientSecret string
}

// NewService creates the Gmail adapter
func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback domain.TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t.AccessToken, t.RefreshToken); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return t, nil
}

func (s *Service) client(ctx context.Context, cred *domain.Credential) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
	}
	// Force a refresh attempt when we hold a refresh token so a stale
	// access token heals transparently.
	if cred.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: cred.OnRefresh,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, wrapped)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// FetchCounts reads the INBOX label counters, Gmail's authoritative
// unread/total source
func (s *Service) FetchCounts(ctx context.Context, cred *domain.Credential) (domain.MailboxCounts, error) {
	srv, err := s.client(ctx, cred)
	if err != nil {
		return domain.MailboxCounts{}, classify(err)
	}

	label, err := srv.Users.Labels.Get("me", "INBOX").Context(ctx).Do()
	if err != nil {
		return domain.MailboxCounts{}, classify(err)
	}
	return domain.MailboxCounts{
		Unread: int(label.MessagesUnread),
		Total:  int(label.MessagesTotal),
	}, nil
}

// SetReadState toggles the UNREAD label on one message
func (s *Service) SetReadState(ctx context.Context, cred *domain.Credential, messageID string, state domain.ReadState) error {
	srv, err := s.client(ctx, cred)
	if err != nil {
		return classify(err)
	}

	modifyReq := &gmail.ModifyMessageRequest{}
	if state == domain.StateRead {
		modifyReq.RemoveLabelIds = []string{"UNREAD"}
	} else {
		modifyReq.AddLabelIds = []string{"UNREAD"}
	}

	if _, err := srv.Users.Messages.Modify("me", messageID, modifyReq).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

// DeleteMessage moves one message to trash
func (s *Service) DeleteMessage(ctx context.Context, cred *domain.Credential, messageID string) error {
	srv, err := s.client(ctx, cred)
	if err != nil {
		return classify(err)
	}
	if _, err := srv.Users.Messages.Trash("me", messageID).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Gmail API failures onto the sync error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		case 403:
			// 403 covers both quota exhaustion and revoked access; the
			// reason string disambiguates.
			for _, e := range apiErr.Errors {
				if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
					return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
				}
			}
			return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		case 429:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
		return domain.Transient(err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}
	return domain.Transient(err)
}
