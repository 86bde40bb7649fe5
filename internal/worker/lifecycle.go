package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
)

// Deps are the collaborators shared by both processors. Archive, Publisher
// and Hasher are optional.
type Deps struct {
	Store     audit.RunStore
	Archive   audit.BlobStore
	Publisher audit.Publisher
	Hasher    audit.Hasher
	Clock     audit.Clock
	Topic     string
	Logger    *zap.Logger
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// runRef identifies a run and carries what the completion event needs.
type runRef struct {
	ID     string
	Kind   audit.RunKind
	URL    string
	Email  string
	Locale string
}

func (r runRef) fields() []zap.Field {
	return []zap.Field{zap.String("run_id", r.ID), zap.String("kind", string(r.Kind)), zap.String("url", r.URL)}
}

// lifecycle moves runs through queued, running and a terminal status.
type lifecycle struct {
	Deps
}

func newLifecycle(d Deps) *lifecycle {
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &lifecycle{Deps: d}
}

// begin moves the run to running. It reports false when the run is
// already terminal and the delivery must be acknowledged without work.
func (l *lifecycle) begin(ctx context.Context, ref runRef, input audit.RunInput) (bool, error) {
	run, err := l.Store.GetRun(ctx, ref.ID)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		now := l.Clock.Now()
		run = audit.Run{ID: ref.ID, Kind: ref.Kind, Input: input, Status: audit.StatusQueued, CreatedAt: now, UpdatedAt: now}
		if err := l.Store.CreateRun(ctx, run); err != nil && !errors.Is(err, audit.ErrRunExists) {
			return false, failure.Storage(fmt.Errorf("create run: %w", err))
		}
	case err != nil:
		return false, failure.Storage(fmt.Errorf("get run: %w", err))
	}

	if run.Status.IsTerminal() {
		l.Logger.Info("run already finalized; ignoring redelivery",
			append(ref.fields(), zap.String("status", string(run.Status)))...)
		metrics.ObserveRedelivery(string(ref.Kind))
		return false, nil
	}
	if run.Status == audit.StatusRunning {
		metrics.ObserveRedelivery(string(ref.Kind))
	}

	if err := l.Store.UpdateRunStatus(ctx, ref.ID, audit.StatusRunning, ""); err != nil {
		if errors.Is(err, audit.ErrRunFinalized) {
			return false, nil
		}
		if errors.Is(err, audit.ErrInvalidTransition) {
			return false, err
		}
		return false, failure.Storage(fmt.Errorf("mark running: %w", err))
	}
	l.Logger.Info("run started", ref.fields()...)
	return true, nil
}

// fail classifies err. Transient errors are returned so the delivery is
// retried; everything else marks the run failed and returns nil.
func (l *lifecycle) fail(ctx context.Context, ref runRef, err error, started time.Time) error {
	class := failure.Classify(err)
	if class == failure.Transient {
		l.Logger.Warn("run hit transient failure; will retry", append(ref.fields(), zap.Error(err))...)
		metrics.ObserveJob(string(ref.Kind), "retry", time.Since(started))
		return err
	}
	l.Logger.Error("run failed", append(ref.fields(), zap.String("class", class.String()), zap.Error(err))...)
	if markErr := l.markFailed(ctx, ref, err.Error()); markErr != nil {
		return markErr
	}
	metrics.ObserveJob(string(ref.Kind), "failed", time.Since(started))
	return nil
}

// markFailed writes the failed status and publishes the event.
func (l *lifecycle) markFailed(ctx context.Context, ref runRef, reason string) error {
	err := l.Store.UpdateRunStatus(ctx, ref.ID, audit.StatusFailed, reason)
	switch {
	case errors.Is(err, audit.ErrRunFinalized):
		return nil
	case errors.Is(err, audit.ErrInvalidTransition):
		l.Logger.Warn("cannot mark run failed", append(ref.fields(), zap.Error(err))...)
		return nil
	case err != nil:
		return failure.Storage(fmt.Errorf("mark failed: %w", err))
	}
	l.publish(ctx, ref, audit.StatusFailed, reason, "", "")
	return nil
}

// complete persists the result once, archives it, marks the run ready and
// publishes the completion event.
func (l *lifecycle) complete(ctx context.Context, ref runRef, result any, started time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return l.fail(ctx, ref, failure.Parse(fmt.Errorf("encode result: %w", err)), started)
	}
	if err := l.Store.SaveResult(ctx, ref.ID, payload); err != nil && !errors.Is(err, audit.ErrResultExists) {
		return l.fail(ctx, ref, failure.Storage(fmt.Errorf("save result: %w", err)), started)
	}

	uri, digest := l.archive(ctx, ref, payload)

	err = l.Store.UpdateRunStatus(ctx, ref.ID, audit.StatusReady, "")
	switch {
	case errors.Is(err, audit.ErrRunFinalized):
		l.Logger.Info("run finalized concurrently", ref.fields()...)
		return nil
	case err != nil:
		return l.fail(ctx, ref, failure.Storage(fmt.Errorf("mark ready: %w", err)), started)
	}

	l.publish(ctx, ref, audit.StatusReady, "", uri, digest)
	metrics.ObserveJob(string(ref.Kind), "ready", time.Since(started))
	l.Logger.Info("run ready", append(ref.fields(), zap.Duration("duration", time.Since(started)))...)
	return nil
}

func (l *lifecycle) archive(ctx context.Context, ref runRef, payload []byte) (string, string) {
	var digest string
	if l.Hasher != nil {
		h, err := l.Hasher.Hash(payload)
		if err != nil {
			l.Logger.Warn("hash result failed", append(ref.fields(), zap.Error(err))...)
		}
		digest = h
	}
	if l.Archive == nil {
		return "", digest
	}
	path := fmt.Sprintf("results/%s/%s.json", ref.Kind, ref.ID)
	uri, err := l.Archive.PutObject(ctx, path, "application/json", payload)
	if err != nil {
		l.Logger.Warn("archive result failed", append(ref.fields(), zap.Error(err))...)
		return "", digest
	}
	return uri, digest
}

func (l *lifecycle) publish(ctx context.Context, ref runRef, status audit.RunStatus, reason, uri, digest string) {
	if l.Publisher == nil || l.Topic == "" {
		return
	}
	event := audit.CompletionEvent{
		RunID:        ref.ID,
		Kind:         ref.Kind,
		Status:       status,
		URL:          ref.URL,
		Email:        ref.Email,
		Locale:       ref.Locale,
		Error:        reason,
		ResultURI:    uri,
		ResultSHA256: digest,
		FinishedAt:   l.Clock.Now(),
	}
	if _, err := l.Publisher.Publish(ctx, l.Topic, event); err != nil {
		l.Logger.Warn("publish completion event failed", append(ref.fields(), zap.Error(err))...)
	}
}
