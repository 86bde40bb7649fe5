// Package pubsub adapts Google Cloud Pub/Sub subscriptions to the pull-style
// audit.Queue used by the workers.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// Route names the topic and subscription carrying one run kind.
type Route struct {
	Topic        string
	Subscription string
}

// Config binds run kinds to Pub/Sub resources.
type Config struct {
	Routes map[audit.RunKind]Route
	// MaxOutstanding caps unacknowledged messages held per kind.
	MaxOutstanding int
}

// Queue publishes messages to per-kind topics and hands received messages
// to Dequeue callers. Redelivery is left to Pub/Sub's ack deadline.
type Queue struct {
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	topics     map[audit.RunKind]*pubsub.Topic
	deliveries map[audit.RunKind]chan audit.Delivery

	startOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a Queue. Call Start before Dequeue.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if len(cfg.Routes) == 0 {
		return nil, errors.New("at least one route is required")
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		topics:     make(map[audit.RunKind]*pubsub.Topic),
		deliveries: make(map[audit.RunKind]chan audit.Delivery),
	}
	for kind, route := range cfg.Routes {
		if route.Topic != "" {
			q.topics[kind] = client.Topic(route.Topic)
		}
		q.deliveries[kind] = make(chan audit.Delivery)
	}
	return q, nil
}

// Start launches one Receive loop per routed subscription. The loops stop
// when ctx ends.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for kind, route := range q.cfg.Routes {
			if route.Subscription == "" {
				continue
			}
			sub := q.client.Subscription(route.Subscription)
			sub.ReceiveSettings.MaxOutstandingMessages = q.cfg.MaxOutstanding
			q.wg.Add(1)
			go q.receive(ctx, kind, sub)
		}
	})
}

func (q *Queue) receive(ctx context.Context, kind audit.RunKind, sub *pubsub.Subscription) {
	defer q.wg.Done()
	out := q.deliveries[kind]
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var msg audit.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			q.logger.Error("dropping undecodable message",
				zap.String("kind", string(kind)), zap.String("message_id", m.ID), zap.Error(err))
			m.Ack()
			return
		}
		if msg.Kind == "" {
			msg.Kind = kind
		}
		select {
		case out <- &delivery{msg: msg, raw: m}:
		case <-ctx.Done():
			m.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Enqueue publishes msg to its kind's topic and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, msg audit.Message) error {
	topic, ok := q.topics[msg.Kind]
	if !ok {
		return fmt.Errorf("enqueue: no topic routed for kind %q", msg.Kind)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	res := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": string(msg.Kind), "run_id": msg.RunID()},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish %s message: %w", msg.Kind, err)
	}
	return nil
}

// Dequeue waits for the next received message of kind.
func (q *Queue) Dequeue(ctx context.Context, kind audit.RunKind) (audit.Delivery, error) {
	ch, ok := q.deliveries[kind]
	if !ok {
		return nil, fmt.Errorf("dequeue: no subscription routed for kind %q", kind)
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-ch:
		return d, nil
	}
}

// Close flushes publishers and waits for the receive loops, which end with
// the context passed to Start.
func (q *Queue) Close() {
	for _, t := range q.topics {
		t.Stop()
	}
	q.wg.Wait()
}

type delivery struct {
	msg audit.Message
	raw *pubsub.Message
}

func (d *delivery) Message() audit.Message { return d.msg }

// Attempt is only tracked when the subscription has a dead letter policy.
func (d *delivery) Attempt() int {
	if d.raw.DeliveryAttempt == nil {
		return 0
	}
	return *d.raw.DeliveryAttempt
}

func (d *delivery) Ack() { d.raw.Ack() }

func (d *delivery) Nack() { d.raw.Nack() }
