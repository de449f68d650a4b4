package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"mcpforge/internal/coordinator"
)

const (
	DefaultSubjectPrefix = "mcpforge.results"
	DefaultStream        = "MCPFORGE_RESULTS"
)

// Event is the message published for every terminal query.
type Event struct {
	QueryID     string    `json:"queryId"`
	Query       string    `json:"query"`
	Status      string    `json:"status"`
	Phase       string    `json:"phase"`
	Name        string    `json:"name,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`
	ContainerID string    `json:"containerId,omitempty"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent summarizes a terminal result.
func NewEvent(res coordinator.Result, now time.Time) Event {
	ev := Event{
		QueryID:   res.QueryID,
		Query:     res.Query,
		Status:    coordinator.NewResponse(res).Status,
		Phase:     res.Phase.String(),
		Name:      res.Name,
		Endpoint:  res.Endpoint,
		Attempts:  res.Attempts,
		Timestamp: now.UTC(),
	}
	if res.Deployment != nil {
		ev.ContainerID = res.Deployment.ContainerID
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// streamPublisher is the JetStream surface Publisher needs.
type streamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher is a result sink that publishes one event per query to JetStream
// under "<prefix>.<status>".
type Publisher struct {
	conn   *nats.Conn
	js     streamPublisher
	prefix string
	log    *slog.Logger
}

var _ coordinator.ResultSink = (*Publisher)(nil)

// Connect dials url and makes sure a stream captures the result subjects.
func Connect(url, prefix string, opts ...nats.Option) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is required")
	}
	prefix = subjectPrefix(prefix)

	opts = append([]nats.Option{nats.Name("mcpforge")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, prefix); err != nil {
		nc.Close()
		return nil, err
	}

	p := newPublisher(js, prefix)
	p.conn = nc
	return p, nil
}

func newPublisher(js streamPublisher, prefix string) *Publisher {
	return &Publisher{
		js:     js,
		prefix: subjectPrefix(prefix),
		log:    slog.With("component", "events"),
	}
}

func ensureStream(js nats.JetStreamContext, prefix string) error {
	_, err := js.StreamInfo(DefaultStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("look up stream %s: %w", DefaultStream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     DefaultStream,
		Subjects: []string{prefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", DefaultStream, err)
	}
	return nil
}

func subjectPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

func (p *Publisher) Subject(status string) string {
	return p.prefix + "." + status
}

func (p *Publisher) Publish(ctx context.Context, res coordinator.Result) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	ev := NewEvent(res, time.Now())
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subj := p.Subject(ev.Status)
	if _, err := p.js.Publish(subj, data, nats.Context(ctx), nats.MsgId(ev.QueryID)); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	p.log.Debug("result published", "subject", subj, "query_id", ev.QueryID)
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
