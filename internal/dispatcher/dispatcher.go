// Package dispatcher runs one worker pool per run kind over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// Runner is a long-lived queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// Pool is a set of identical workers for one kind.
type Pool struct {
	Kind    audit.RunKind
	Workers []Runner
}

// Dispatcher fans out queue work to per-kind pools.
type Dispatcher struct {
	queue  audit.Queue
	pools  []Pool
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(queue audit.Queue, pools []Pool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, pools: pools, logger: logger}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, pool := range d.pools {
		d.logger.Info("starting worker pool",
			zap.String("kind", string(pool.Kind)), zap.Int("workers", len(pool.Workers)))
		for _, w := range pool.Workers {
			wg.Add(1)
			go func(wk Runner) {
				defer wg.Done()
				wk.Run(ctx)
			}(w)
		}
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pools stopped")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, msg audit.Message) error {
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
