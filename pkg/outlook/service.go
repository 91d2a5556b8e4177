package outlook

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"mailhub-backend/internal/mailsync/domain"
)

// Service implements the Outlook mailbox capability via Microsoft Graph
type Service struct{}

// NewService creates the Outlook adapter
func NewService() *Service {
	return &Service{}
}

// staticTokenCredential feeds an already-issued access token to the Graph
// client; refresh is handled upstream by the credential provider.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.token}, nil
}

func (s *Service) client(cred *domain.Credential) (*msgraphsdk.GraphServiceClient, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(
		&staticTokenCredential{token: cred.AccessToken}, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return client, nil
}

// FetchCounts reads the inbox folder counters
func (s *Service) FetchCounts(ctx context.Context, cred *domain.Credential) (domain.MailboxCounts, error) {
	client, err := s.client(cred)
	if err != nil {
		return domain.MailboxCounts{}, domain.Transient(err)
	}

	folder, err := client.Me().MailFolders().ByMailFolderId("inbox").Get(ctx, nil)
	if err != nil {
		return domain.MailboxCounts{}, classify(err)
	}

	counts := domain.MailboxCounts{}
	if unread := folder.GetUnreadItemCount(); unread != nil {
		counts.Unread = int(*unread)
	}
	if total := folder.GetTotalItemCount(); total != nil {
		counts.Total = int(*total)
	}
	return counts, nil
}

// SetReadState patches the isRead flag on one message
func (s *Service) SetReadState(ctx context.Context, cred *domain.Credential, messageID string, state domain.ReadState) error {
	client, err := s.client(cred)
	if err != nil {
		return domain.Transient(err)
	}

	isRead := state == domain.StateRead
	patch := models.NewMessage()
	patch.SetIsRead(&isRead)

	if _, err := client.Me().Messages().ByMessageId(messageID).Patch(ctx, patch, nil); err != nil {
		return classify(err)
	}
	return nil
}

// DeleteMessage deletes one message (Graph moves it to Deleted Items)
func (s *Service) DeleteMessage(ctx context.Context, cred *domain.Credential, messageID string) error {
	client, err := s.client(cred)
	if err != nil {
		return domain.Transient(err)
	}
	if err := client.Me().Messages().ByMessageId(messageID).Delete(ctx, nil); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Graph failures onto the sync error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		switch odataErr.ResponseStatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		case 429:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
	}
	return domain.Transient(err)
}
