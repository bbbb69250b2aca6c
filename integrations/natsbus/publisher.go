package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"slimhogs/core/events"
)

const (
	DefaultStream        = "PIGGY_EVENTS"
	DefaultSubjectPrefix = "piggy.events"
	defaultBuffer        = 1024
)

var ErrClosed = errors.New("natsbus: publisher closed")

// streamPublisher is the subset of jetstream.JetStream used by Publisher.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Message is the JSON body published for every registry event.
type Message struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Publisher forwards registry events to JetStream. Emit never blocks the
// engine: events are queued and published by Run. A full queue drops the
// event and counts it.
type Publisher struct {
	js      streamPublisher
	prefix  string
	queue   chan Message
	logger  *slog.Logger
	dropped atomic.Uint64
	closed  atomic.Bool
	nowFn   func() time.Time
}

// NewPublisher builds a publisher writing to subjects under prefix.
func NewPublisher(js streamPublisher, prefix string, buffer int, logger *slog.Logger) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		prefix: prefix,
		queue:  make(chan Message, buffer),
		logger: logger.With("component", "natsbus"),
		nowFn:  time.Now,
	}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Emit implements events.Emitter.
func (p *Publisher) Emit(evt events.Event) {
	if p == nil || evt == nil || p.closed.Load() {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       payload.Type,
		Attributes: payload.Attributes,
		EmittedAt:  p.nowFn().UTC(),
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping", "type", msg.Type)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes queued events until ctx is cancelled, then drains whatever is
// left with a short deadline. Publish failures are logged and not retried.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.closed.Store(true)
			p.drain()
			return nil
		case msg := <-p.queue:
			p.publish(ctx, msg)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-p.queue:
			p.publish(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("marshal event", "type", msg.Type, "error", err)
		return
	}
	subject := p.Subject(msg.Type)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID)); err != nil {
		p.logger.Warn("publish event", "subject", subject, "error", err)
	}
}

// EnsureStream creates or updates the stream capturing every subject under
// prefix.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	if strings.TrimSpace(name) == "" {
		name = DefaultStream
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

// Connect dials NATS and returns a JetStream context. Reconnects are
// unbounded.
func Connect(url string, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("piggyd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
