package imap

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailhub-backend/internal/mailsync/domain"
)

// The dial must fail fast once the caller's deadline has passed instead of
// blocking until the OS connect timeout. 192.0.2.1 (TEST-NET-1) never
// answers, so a successful dial is impossible here.
func TestConnectHonorsContextDeadline(t *testing.T) {
	svc := NewService("192.0.2.1:993")
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	start := time.Now()
	_, err := svc.FetchCounts(ctx, &domain.Credential{Email: "user@example.com", Password: "pw"})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected dial error against unroutable address")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("dial ignored the expired deadline, took %s", elapsed)
	}
	if !domain.IsTransient(err) {
		t.Fatalf("dial failure should be transient, got %v", err)
	}
}

func TestSelectInboxRejectsNonNumericID(t *testing.T) {
	svc := NewService("")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := svc.selectInbox(ctx, &domain.Credential{Email: "user@example.com", Password: "pw"}, "not-a-uid")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}
