package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	authrepo "mailhub-backend/internal/auth/repository"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/poller"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on the watch topic
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service listens on the Gmail Pub/Sub watch subscription and nudges the
// sync poller when a mailbox changes, so external changes surface within
// one out-of-cycle poll instead of waiting for the next interval.
type Service struct {
	pubsubClient *pubsub.Client
	poller       *poller.Manager
	userRepo     authrepo.UserRepository
	projectID    string
	subName      string

	// Deduplication: track last historyId per user so redelivered or
	// out-of-order messages don't trigger extra polls.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, subName string, pollManager *poller.Manager, userRepo authrepo.UserRepository, credentialsFile string) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		poller:        pollManager,
		userRepo:      userRepo,
		projectID:     projectID,
		subName:       subName,
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service on subscription: %s", s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}
	if !exists {
		log.Printf("[PubSub] Subscription %s does not exist, external change nudges disabled", s.subName)
		return
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	user, err := s.userRepo.FindByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] Error finding user by email %s: %v", notification.EmailAddress, err)
		return
	}
	if user == nil {
		return
	}

	if !s.advanceHistory(user.ID, notification.HistoryID) {
		return
	}

	// The poller owns recompute and broadcast; a nudge just moves its next
	// tick forward. If sync isn't running for this user there is nobody
	// watching the counters, so the notification is dropped.
	if s.poller.Nudge(user.ID, domain.ProviderGmail) {
		log.Printf("[PubSub] Nudged poll for user %s (historyId %d)", user.ID, notification.HistoryID)
	}
}

// advanceHistory records the historyId and reports whether it is new
func (s *Service) advanceHistory(userID string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[userID]; ok && historyID <= last {
		return false
	}
	s.lastHistoryID[userID] = historyID
	return true
}
