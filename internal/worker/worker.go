// Package worker executes audit and crawl runs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
)

// DefaultMaxAttempts bounds redeliveries of a transiently failing message.
const DefaultMaxAttempts = 5

// Handler processes messages of one kind.
type Handler interface {
	// Handle returns a non-nil error when the delivery should be retried.
	Handle(ctx context.Context, msg audit.Message) error
	// GiveUp finalizes a run whose retries are exhausted.
	GiveUp(ctx context.Context, msg audit.Message, cause error) error
}

// Config controls Worker behavior.
type Config struct {
	MaxAttempts int
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes one kind of message until its context ends.
type Worker struct {
	queue   audit.Queue
	kind    audit.RunKind
	handler Handler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue audit.Queue, kind audit.RunKind, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 500 * time.Millisecond
	}
	return &Worker{queue: queue, kind: kind, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks, consuming deliveries until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	kind := string(w.kind)
	metrics.IncActiveWorkers(kind)
	defer metrics.DecActiveWorkers(kind)

	for {
		delivery, err := w.queue.Dequeue(ctx, w.kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.String("kind", kind), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, d audit.Delivery) {
	msg := d.Message()
	fields := []zap.Field{
		zap.String("run_id", msg.RunID()),
		zap.String("kind", string(w.kind)),
		zap.Int("attempt", d.Attempt()),
	}
	w.logger.Debug("dequeued run", fields...)

	err := w.safeHandle(ctx, msg)
	switch {
	case err == nil:
		d.Ack()
	case ctx.Err() != nil:
		w.logger.Info("shutdown interrupted run; returning to queue", append(fields, zap.Error(err))...)
		d.Nack()
	case d.Attempt() > 0 && d.Attempt() >= w.cfg.MaxAttempts:
		w.logger.Error("retries exhausted", append(fields, zap.Error(err))...)
		if giveUpErr := w.handler.GiveUp(ctx, msg, err); giveUpErr != nil {
			w.logger.Error("finalize exhausted run failed", append(fields, zap.Error(giveUpErr))...)
			d.Nack()
			return
		}
		d.Ack()
	default:
		d.Nack()
	}
}

// safeHandle keeps a panicking handler from taking the worker down. The
// message is redelivered.
func (w *Worker) safeHandle(ctx context.Context, msg audit.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", zap.String("run_id", msg.RunID()), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, msg)
}

func exhaustedReason(cause error) string {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return "retries exhausted: " + cause.Error()
}
