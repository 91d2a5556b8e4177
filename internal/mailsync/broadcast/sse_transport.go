package broadcast

import (
	"context"

	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/pkg/sse"
)

// sseTransport delivers events over the server-sent-events streams every
// connected tab of a user keeps open
type sseTransport struct {
	manager *sse.Manager
}

// NewSSETransport adapts the SSE manager to the Transport interface
func NewSSETransport(manager *sse.Manager) Transport {
	return &sseTransport{manager: manager}
}

func (t *sseTransport) Name() string { return "sse" }

func (t *sseTransport) Deliver(_ context.Context, userID string, event domain.Event) error {
	t.manager.SendToUser(userID, string(event.Type()), event)
	return nil
}
