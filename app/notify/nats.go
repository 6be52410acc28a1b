package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

const SubjectPrefix = "digest.runs"

var _ tasks.Observer = (*NATSPublisher)(nil)

type publisher interface {
	Publish(subject string, data []byte) error
}

// RunMessage is the payload published for every run status change.
type RunMessage struct {
	Run       tasks.RunState `json:"run"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// NATSPublisher publishes run status changes to digest.runs.<status>.
// Progress-only updates are not published.
type NATSPublisher struct {
	conn   *nats.Conn
	pub    publisher
	source string

	mu   sync.Mutex
	last map[string]tasks.Status
}

func NewNATSPublisher(url, source string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(source),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := newPublisher(nc, source)
	p.conn = nc
	return p, nil
}

func newPublisher(pub publisher, source string) *NATSPublisher {
	return &NATSPublisher{
		pub:    pub,
		source: source,
		last:   make(map[string]tasks.Status),
	}
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

func Subject(status tasks.Status) string {
	return SubjectPrefix + "." + strings.ToLower(string(status))
}

func (p *NATSPublisher) OnRunUpdate(run tasks.RunState) {
	p.mu.Lock()
	prev, seen := p.last[run.ID]
	if seen && prev == run.Status {
		p.mu.Unlock()
		return
	}
	if run.Status.IsTerminal() {
		delete(p.last, run.ID)
	} else {
		p.last[run.ID] = run.Status
	}
	p.mu.Unlock()

	subject := Subject(run.Status)
	data, err := json.Marshal(RunMessage{Run: run, Timestamp: time.Now().UTC(), Source: p.source})
	if err != nil {
		slog.Error("Failed to encode run message", "run", run.ID, "error", err)
		return
	}

	if err := p.pub.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish run message", "subject", subject, "run", run.ID, "error", err)
		metrics.NatsMessagesPublished.WithLabelValues(subject, "error").Inc()
		return
	}
	metrics.NatsMessagesPublished.WithLabelValues(subject, "success").Inc()
	slog.Debug("Published run message", "subject", subject, "run", run.ID)
}
