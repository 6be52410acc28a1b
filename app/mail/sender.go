package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/lysyi3m/rss-digest/app/digest"
	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/registry"
)

const (
	SecurityStartTLS = "STARTTLS"
	SecuritySSL      = "SSL/TLS"
	SecurityNone     = "NONE"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Security string
	Username string
	Password string
	Sender   string
	Timeout  time.Duration
}

// Complete reports whether enough is configured to attempt a delivery.
func (c SMTPConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.Sender != ""
}

type DeliveryResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// session is the part of an SMTP connection used by the Dispatcher.
type session interface {
	Send(messages ...*gomail.Msg) error
	Close() error
}

type dialFunc func(ctx context.Context, config SMTPConfig) (session, error)

type Dispatcher struct {
	config             SMTPConfig
	unsubscribeAddress string
	dial               dialFunc
	now                func() time.Time
}

// NewDispatcher returns an SMTP dispatcher. unsubscribeAddress is the mailbox
// watched by the Scanner; when empty the digest carries no unsubscribe link.
func NewDispatcher(config SMTPConfig, unsubscribeAddress string) *Dispatcher {
	return &Dispatcher{
		config:             config,
		unsubscribeAddress: unsubscribeAddress,
		dial:               dialSMTP,
		now:                time.Now,
	}
}

// Send delivers one digest per recipient over a single SMTP connection and
// reports the outcome for every recipient. It never returns an error; a
// failure before any message is sent fails all recipients alike.
func (d *Dispatcher) Send(ctx context.Context, taskName, taskID string, items []digest.Item, recipients []string) map[string]DeliveryResult {
	results := make(map[string]DeliveryResult, len(recipients))
	if len(recipients) == 0 {
		return results
	}

	failAll := func(reason string) map[string]DeliveryResult {
		for _, recipient := range recipients {
			results[recipient] = DeliveryResult{Status: registry.StatusFail, Error: reason}
		}
		metrics.DeliveriesTotal.WithLabelValues(registry.StatusFail).Add(float64(len(recipients)))
		return results
	}

	if len(items) == 0 {
		return failAll("no content")
	}
	if !d.config.Complete() {
		return failAll("SMTP settings are incomplete")
	}

	date := d.now().Format("2006-01-02")
	body, err := digest.Render(digest.Page{
		TaskName:           taskName,
		TaskID:             taskID,
		Date:               date,
		UnsubscribeAddress: d.unsubscribeAddress,
		Items:              items,
	})
	if err != nil {
		return failAll(err.Error())
	}
	subject := fmt.Sprintf("NewsDigest - %s (%s)", taskName, date)

	conn, err := d.dial(ctx, d.config)
	if err != nil {
		slog.Error("Failed to connect to SMTP server", "host", d.config.Host, "error", err)
		return failAll(err.Error())
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to close SMTP connection", "error", err)
		}
	}()

	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			results[recipient] = DeliveryResult{Status: registry.StatusFail, Error: err.Error()}
			metrics.DeliveriesTotal.WithLabelValues(registry.StatusFail).Inc()
			continue
		}

		err := d.sendOne(conn, recipient, subject, body, taskID)
		if err != nil {
			slog.Warn("Failed to send digest", "task", taskID, "recipient", recipient, "error", err)
			results[recipient] = DeliveryResult{Status: registry.StatusFail, Error: err.Error()}
			metrics.DeliveriesTotal.WithLabelValues(registry.StatusFail).Inc()
			continue
		}

		slog.Info("Digest sent", "task", taskID, "recipient", recipient, "items", len(items))
		results[recipient] = DeliveryResult{Status: registry.StatusSuccess}
		metrics.DeliveriesTotal.WithLabelValues(registry.StatusSuccess).Inc()
	}

	return results
}

func (d *Dispatcher) sendOne(conn session, recipient, subject, body, taskID string) error {
	msg := gomail.NewMsg()
	if err := msg.From(d.config.Sender); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(strings.TrimSpace(recipient)); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	if d.unsubscribeAddress != "" {
		msg.SetGenHeader(gomail.HeaderListUnsubscribe, "<"+digest.UnsubscribeLink(d.unsubscribeAddress, taskID)+">")
	}
	msg.SetBodyString(gomail.TypeTextHTML, body)

	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func dialSMTP(ctx context.Context, config SMTPConfig) (session, error) {
	opts := []gomail.Option{gomail.WithPort(config.Port)}
	if config.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(config.Timeout))
	}

	switch strings.ToUpper(config.Security) {
	case SecuritySSL:
		opts = append(opts, gomail.WithSSL())
	case SecurityNone:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}

	if config.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(config.Username),
			gomail.WithPassword(config.Password),
		)
	}

	client, err := gomail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to dial SMTP server: %w", err)
	}
	return client, nil
}
