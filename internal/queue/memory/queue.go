// Package memory provides an at-least-once in-process queue for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with one lane per run kind. Nacked
// deliveries are put back with their attempt count incremented.
type Queue struct {
	lanes         map[audit.RunKind]chan envelope
	redeliverWait time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

type envelope struct {
	msg     audit.Message
	attempt int
}

// NewQueue constructs a queue with the provided capacity per kind.
// redeliverWait delays the return of nacked messages.
func NewQueue(capacity int, redeliverWait time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		lanes: map[audit.RunKind]chan envelope{
			audit.KindAudit: make(chan envelope, capacity),
			audit.KindCrawl: make(chan envelope, capacity),
		},
		redeliverWait: redeliverWait,
		done:          make(chan struct{}),
	}
}

// Enqueue pushes a message or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg audit.Message) error {
	return q.push(ctx, envelope{msg: msg, attempt: 1})
}

func (q *Queue) push(ctx context.Context, env envelope) error {
	lane, ok := q.lanes[env.msg.Kind]
	if !ok {
		return fmt.Errorf("enqueue: unknown kind %q", env.msg.Kind)
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case lane <- env:
		return nil
	}
}

// Dequeue pops the next message of kind, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context, kind audit.RunKind) (audit.Delivery, error) {
	lane, ok := q.lanes[kind]
	if !ok {
		return nil, fmt.Errorf("dequeue: unknown kind %q", kind)
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return nil, ErrClosed
	case env := <-lane:
		return &delivery{queue: q, env: env}, nil
	}
}

// Len reports the number of messages waiting for kind.
func (q *Queue) Len(kind audit.RunKind) int {
	return len(q.lanes[kind])
}

// Close stops the queue. Waiting messages are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

type delivery struct {
	queue *Queue
	env   envelope
	once  sync.Once
}

func (d *delivery) Message() audit.Message { return d.env.msg }

func (d *delivery) Attempt() int { return d.env.attempt }

func (d *delivery) Ack() { d.once.Do(func() {}) }

func (d *delivery) Nack() {
	d.once.Do(func() {
		next := envelope{msg: d.env.msg, attempt: d.env.attempt + 1}
		go func() {
			if d.queue.redeliverWait > 0 {
				select {
				case <-time.After(d.queue.redeliverWait):
				case <-d.queue.done:
					return
				}
			}
			_ = d.queue.push(context.Background(), next)
		}()
	})
}
