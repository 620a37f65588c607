package observers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
)

const DefaultActivitySubject = "voxstream.activity"

// Publisher is the part of *nats.Conn the activity feed needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSObserver publishes each event as JSON on subject.<event name>, so
// dashboards can subscribe to subject.> or to a single event.
type NATSObserver struct {
	pub     Publisher
	subject string
	log     *slog.Logger
	failed  atomic.Int64
}

type activityMessage struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewNATSObserver(pub Publisher, subject string, log *slog.Logger) *NATSObserver {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultActivitySubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSObserver{pub: pub, subject: subject, log: log}
}

func (o *NATSObserver) RecordEvent(ev metrics.MetricsEvent) {
	data, err := json.Marshal(activityMessage{
		Name:   ev.Name,
		Time:   ev.Time.UTC(),
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: redact.Fields(ev.Fields),
	})
	if err != nil {
		return
	}
	if err := o.pub.Publish(o.subject+"."+ev.Name, data); err != nil {
		// Log the first failure and every hundredth after it.
		if n := o.failed.Add(1); n == 1 || n%100 == 0 {
			o.log.Warn("activity publish failed", "subject", o.subject, "failures", n, "error", err)
		}
	}
}

// Failed reports how many publishes have failed.
func (o *NATSObserver) Failed() int64 {
	return o.failed.Load()
}

// NATSConn owns the connection behind a NATSObserver.
type NATSConn struct {
	conn *nats.Conn
	log  *slog.Logger
}

// ConnectNATS dials url (comma separated servers allowed).
func ConnectNATS(url, name string, timeout time.Duration, log *slog.Logger) (*NATSConn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("no NATS url configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if name == "" {
		name = "voxstream"
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url))
	return &NATSConn{conn: conn, log: log}, nil
}

func (c *NATSConn) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *NATSConn) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Close drains pending publishes before closing.
func (c *NATSConn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.log.Info("closing NATS connection")
	err := c.conn.Drain()
	c.conn.Close()
	return err
}

var (
	_ metrics.Observer = (*NATSObserver)(nil)
	_ Publisher        = (*NATSConn)(nil)
)
