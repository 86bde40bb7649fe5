package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	queuememory "github.com/JakeFAU/seo-audit-worker/internal/queue/memory"
)

type fakeDelivery struct {
	msg     audit.Message
	attempt int

	mu     sync.Mutex
	acked  bool
	nacked bool
}

func (d *fakeDelivery) Message() audit.Message { return d.msg }
func (d *fakeDelivery) Attempt() int           { return d.attempt }

func (d *fakeDelivery) Ack() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
}

func (d *fakeDelivery) Nack() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
}

func (d *fakeDelivery) state() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.nacked
}

type scriptedHandler struct {
	err      error
	panicMsg string
	gaveUp   []error
}

func (h *scriptedHandler) Handle(context.Context, audit.Message) error {
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	return h.err
}

func (h *scriptedHandler) GiveUp(_ context.Context, _ audit.Message, cause error) error {
	h.gaveUp = append(h.gaveUp, cause)
	return nil
}

func newTestWorker(h Handler) *Worker {
	return New(nil, audit.KindAudit, h, Config{MaxAttempts: 3}, zap.NewNop())
}

func TestWorkerHandle_AcksOnSuccess(t *testing.T) {
	t.Parallel()

	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 1}
	newTestWorker(&scriptedHandler{}).handle(context.Background(), d)

	acked, nacked := d.state()
	assert.True(t, acked)
	assert.False(t, nacked)
}

func TestWorkerHandle_NacksRetryableFailure(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{err: failure.Network("get", errors.New("reset"))}
	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 2}
	newTestWorker(h).handle(context.Background(), d)

	acked, nacked := d.state()
	assert.False(t, acked)
	assert.True(t, nacked)
	assert.Empty(t, h.gaveUp)
}

func TestWorkerHandle_GivesUpOnLastAttempt(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{err: failure.Network("get", errors.New("reset"))}
	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 3}
	newTestWorker(h).handle(context.Background(), d)

	acked, nacked := d.state()
	assert.True(t, acked)
	assert.False(t, nacked)
	require.Len(t, h.gaveUp, 1)
	assert.ErrorIs(t, h.gaveUp[0], h.err)
}

func TestWorkerHandle_UntrackedAttemptsNeverGiveUp(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{err: failure.Network("get", errors.New("reset"))}
	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 0}
	newTestWorker(h).handle(context.Background(), d)

	_, nacked := d.state()
	assert.True(t, nacked)
	assert.Empty(t, h.gaveUp)
}

func TestWorkerHandle_PanicIsRedelivered(t *testing.T) {
	t.Parallel()

	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 1}
	newTestWorker(&scriptedHandler{panicMsg: "nil map"}).handle(context.Background(), d)

	_, nacked := d.state()
	assert.True(t, nacked)
}

func TestWorkerHandle_ShutdownNacks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &scriptedHandler{err: context.Canceled}
	d := &fakeDelivery{msg: audit.Message{Kind: audit.KindAudit}, attempt: 3}
	newTestWorker(h).handle(ctx, d)

	_, nacked := d.state()
	assert.True(t, nacked)
	assert.Empty(t, h.gaveUp)
}

func TestWorkerRun_ProcessesAuditEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness()
	q := queuememory.NewQueue(4, 0)
	defer q.Close()
	proc := NewAuditProcessor(h.deps, h.fetcher, nil, nil, nil, AuditConfig{})
	w := New(q, audit.KindAudit, proc, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	job := auditJob("run-e2e")
	require.NoError(t, q.Enqueue(ctx, audit.Message{Kind: audit.KindAudit, Audit: &job}))

	require.Eventually(t, func() bool {
		run, err := h.store.GetRun(context.Background(), "run-e2e")
		return err == nil && run.Status == audit.StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestWorkerRun_RetriesThenExhausts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.err = failure.Network("get", errors.New("connection refused"))
	q := queuememory.NewQueue(4, 0)
	defer q.Close()
	proc := NewAuditProcessor(h.deps, h.fetcher, nil, nil, nil, AuditConfig{})
	w := New(q, audit.KindAudit, proc, Config{MaxAttempts: 3}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	job := auditJob("run-flaky")
	require.NoError(t, q.Enqueue(ctx, audit.Message{Kind: audit.KindAudit, Audit: &job}))

	require.Eventually(t, func() bool {
		run, err := h.store.GetRun(context.Background(), "run-flaky")
		return err == nil && run.Status == audit.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	run, err := h.store.GetRun(context.Background(), "run-flaky")
	require.NoError(t, err)
	assert.Contains(t, run.Error, "retries exhausted: ")
	assert.Contains(t, run.Error, "connection refused")
	assert.Equal(t, 3, h.fetcher.Calls())

	events, err := h.events.Events(testTopic)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.StatusFailed, events[0].Status)
}
