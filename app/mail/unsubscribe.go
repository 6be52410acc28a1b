package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var unsubscribePattern = regexp.MustCompile(`(?i)Unsubscribe:\s*(\S+)`)

type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (c IMAPConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.Username != "" && c.Password != ""
}

// RecipientRemover is implemented by the task registry.
type RecipientRemover interface {
	RemoveRecipient(taskID, email string) (bool, error)
}

type envelope struct {
	UID     uint32
	Subject string
	From    string
}

// mailbox is a logged-in IMAP session with INBOX selected.
type mailbox interface {
	Unseen() ([]uint32, error)
	Envelopes(uids []uint32) ([]envelope, error)
	MarkSeen(uids []uint32) error
	Close() error
}

type openFunc func(ctx context.Context, config IMAPConfig) (mailbox, error)

// Scanner reads unsubscribe replies from an IMAP inbox and removes their
// senders from the referenced task.
type Scanner struct {
	config  IMAPConfig
	remover RecipientRemover
	open    openFunc
}

func NewScanner(config IMAPConfig, remover RecipientRemover) *Scanner {
	return &Scanner{
		config:  config,
		remover: remover,
		open:    openIMAP,
	}
}

// Run checks the inbox every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	if !s.config.Complete() {
		slog.Info("IMAP settings are incomplete, unsubscribe scanning disabled")
		return
	}

	slog.Info("Unsubscribe scanner started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.CheckOnce(ctx); err != nil {
			slog.Error("Failed to check unsubscribe requests", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Unsubscribe scanner stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce processes all unseen unsubscribe requests and returns how many
// were handled. Only handled messages are marked as seen, so a request for
// an unknown task or one that failed to apply is retried on the next check.
func (s *Scanner) CheckOnce(ctx context.Context) (int, error) {
	box, err := s.open(ctx, s.config)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := box.Close(); err != nil {
			slog.Warn("Failed to log out from IMAP server", "error", err)
		}
	}()

	uids, err := box.Unseen()
	if err != nil {
		return 0, fmt.Errorf("failed to search inbox: %w", err)
	}
	if len(uids) == 0 {
		slog.Debug("No unseen messages")
		return 0, nil
	}

	envelopes, err := box.Envelopes(uids)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch envelopes: %w", err)
	}

	var handled []uint32
	for _, env := range envelopes {
		if ctx.Err() != nil {
			break
		}

		match := unsubscribePattern.FindStringSubmatch(env.Subject)
		if match == nil {
			continue
		}
		taskID := match[1]

		if env.From == "" {
			slog.Warn("Unsubscribe request without sender", "uid", env.UID, "task", taskID)
			continue
		}

		removed, err := s.remover.RemoveRecipient(taskID, env.From)
		if err != nil {
			slog.Warn("Failed to process unsubscribe request", "task", taskID, "recipient", env.From, "error", err)
			continue
		}
		if removed {
			slog.Info("Recipient unsubscribed", "task", taskID, "recipient", env.From)
		} else {
			slog.Info("Unsubscribe sender is not a recipient", "task", taskID, "recipient", env.From)
		}
		handled = append(handled, env.UID)
	}

	if len(handled) > 0 {
		if err := box.MarkSeen(handled); err != nil {
			return len(handled), fmt.Errorf("failed to mark messages as seen: %w", err)
		}
	}

	slog.Info("Unsubscribe check completed", "unseen", len(uids), "handled", len(handled))
	return len(handled), nil
}

type imapMailbox struct {
	client *client.Client
}

func openIMAP(ctx context.Context, config IMAPConfig) (mailbox, error) {
	if !config.Complete() {
		return nil, fmt.Errorf("IMAP settings are incomplete")
	}

	dialer := &net.Dialer{Timeout: config.Timeout}
	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	c, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if config.Timeout > 0 {
		c.Timeout = config.Timeout
	}

	if err := c.Login(config.Username, config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to log in to IMAP server: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return &imapMailbox{client: c}, nil
}

func (m *imapMailbox) Unseen() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return m.client.UidSearch(criteria)
}

func (m *imapMailbox) Envelopes(uids []uint32) ([]envelope, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var out []envelope
	for msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		env := envelope{UID: msg.Uid, Subject: msg.Envelope.Subject}
		if len(msg.Envelope.From) > 0 && msg.Envelope.From[0] != nil {
			env.From = msg.Envelope.From[0].Address()
		}
		out = append(out, env)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return out, nil
}

func (m *imapMailbox) MarkSeen(uids []uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

func (m *imapMailbox) Close() error {
	return m.client.Logout()
}
