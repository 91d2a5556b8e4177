package imap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"mailhub-backend/internal/mailsync/domain"
)

// Service implements the mailbox capability over IMAP for providers without
// a first-party REST API (Yahoo). Message IDs are INBOX UIDs rendered as
// decimal strings. One connection is dialed per call; these operations are
// infrequent enough that pooling is not worth the liveness bookkeeping.
type Service struct {
	addr string
}

// NewService creates an IMAP adapter for the given server address
func NewService(addr string) *Service {
	if addr == "" {
		addr = "imap.mail.yahoo.com:993"
	}
	return &Service{addr: addr}
}

func (s *Service) connect(ctx context.Context, cred *domain.Credential) (*client.Client, error) {
	// The dial itself must honor the caller's deadline; a hung TCP or TLS
	// handshake would otherwise escape the per-call provider timeout.
	dialer := new(net.Dialer)
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, s.addr, nil)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("dial %s: %w", s.addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	if err := c.Login(cred.Email, cred.Password); err != nil {
		_ = c.Logout()
		return nil, classifyLogin(err)
	}
	return c, nil
}

// FetchCounts runs STATUS INBOX (MESSAGES UNSEEN)
func (s *Service) FetchCounts(ctx context.Context, cred *domain.Credential) (domain.MailboxCounts, error) {
	c, err := s.connect(ctx, cred)
	if err != nil {
		return domain.MailboxCounts{}, err
	}
	defer c.Logout()

	status, err := c.Status("INBOX", []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
	if err != nil {
		return domain.MailboxCounts{}, domain.Transient(err)
	}
	return domain.MailboxCounts{
		Unread: int(status.Unseen),
		Total:  int(status.Messages),
	}, nil
}

// SetReadState stores or clears \Seen on one message
func (s *Service) SetReadState(ctx context.Context, cred *domain.Credential, messageID string, state domain.ReadState) error {
	c, uid, err := s.selectInbox(ctx, cred, messageID)
	if err != nil {
		return err
	}
	defer c.Logout()

	op := imap.FlagsOp(imap.AddFlags)
	if state == domain.StateUnread {
		op = imap.RemoveFlags
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(op, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return domain.Transient(err)
	}
	return nil
}

// DeleteMessage flags \Deleted and expunges
func (s *Service) DeleteMessage(ctx context.Context, cred *domain.Credential, messageID string) error {
	c, uid, err := s.selectInbox(ctx, cred, messageID)
	if err != nil {
		return err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return domain.Transient(err)
	}
	if err := c.Expunge(nil); err != nil {
		return domain.Transient(err)
	}
	return nil
}

func (s *Service) selectInbox(ctx context.Context, cred *domain.Credential, messageID string) (*client.Client, uint32, error) {
	uid64, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: message id %q is not an IMAP uid", domain.ErrValidation, messageID)
	}
	c, err := s.connect(ctx, cred)
	if err != nil {
		return nil, 0, err
	}
	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, 0, domain.Transient(err)
	}
	return c, uint32(uid64), nil
}

// classifyLogin decides whether a login failure means bad credentials.
// IMAP has no structured status codes here, so this matches the responses
// Yahoo actually sends.
func classifyLogin(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "invalid credentials") || strings.Contains(msg, "login") {
		return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}
	return domain.Transient(err)
}
