package broadcast

import (
	"context"
	"fmt"
	"strconv"

	authrepo "mailhub-backend/internal/auth/repository"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/pkg/fcm"
)

// fcmTransport pushes events to the user's registered devices. Count and
// read-state changes go out as data-only messages so the app can refresh
// badges silently; new-mail events carry a visible notification.
type fcmTransport struct {
	client *fcm.Client
	tokens authrepo.FCMTokenRepository
}

// NewFCMTransport adapts the FCM client to the Transport interface
func NewFCMTransport(client *fcm.Client, tokens authrepo.FCMTokenRepository) Transport {
	return &fcmTransport{client: client, tokens: tokens}
}

func (t *fcmTransport) Name() string { return "fcm" }

func (t *fcmTransport) Deliver(ctx context.Context, userID string, event domain.Event) error {
	registered, err := t.tokens.GetTokensByUserID(userID)
	if err != nil {
		return fmt.Errorf("get fcm tokens: %w", err)
	}
	if len(registered) == 0 {
		return nil
	}

	tokenStrings := make([]string, 0, len(registered))
	for _, reg := range registered {
		tokenStrings = append(tokenStrings, reg.Token)
	}

	msg := buildMessage(event)
	failedTokens, err := t.client.SendToDevices(ctx, tokenStrings, msg)
	if err != nil {
		return err
	}
	for _, token := range failedTokens {
		if err := t.tokens.DeleteToken(token); err != nil {
			return fmt.Errorf("prune fcm token: %w", err)
		}
	}
	return nil
}

func buildMessage(event domain.Event) fcm.Message {
	data := map[string]string{"type": string(event.Type())}

	switch e := event.(type) {
	case domain.EmailCreated:
		title := "New email"
		if e.From != "" {
			title = fmt.Sprintf("Email from %s", e.From)
		}
		body := e.Subject
		if body == "" {
			body = "(no subject)"
		}
		data["messageId"] = e.ID
		data["click_action"] = "/inbox/" + e.ID
		return fcm.Message{Title: title, Body: body, Data: data}
	case domain.EmailUpdated:
		data["messageId"] = e.ID
		data["isRead"] = strconv.FormatBool(e.IsRead)
		data["source"] = string(e.Source)
	case domain.EmailDeleted:
		data["messageId"] = e.ID
		data["reason"] = e.Reason
		data["source"] = string(e.Source)
	case domain.CountUpdated:
		data["unread"] = strconv.Itoa(e.Unread)
		data["total"] = strconv.Itoa(e.Total)
		data["source"] = string(e.Source)
	}
	return fcm.Message{Data: data}
}
