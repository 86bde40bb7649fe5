package audit

import (
	"context"
	"time"
)

// RunStore persists runs and their terminal results.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
	SaveResult(ctx context.Context, runID string, result []byte) error
	GetResult(ctx context.Context, runID string) ([]byte, error)
	// DiscardQueued removes a run that never left queued, undoing a
	// submission whose message could not be enqueued. It returns
	// ErrNotFound for unknown ids and ErrInvalidTransition once a worker
	// has picked the run up.
	DiscardQueued(ctx context.Context, runID string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Cache is a best-effort key/value cache. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Delivery is one at-least-once delivery of a queue message.
type Delivery interface {
	Message() Message
	// Attempt is 1-based; 0 means the transport does not track attempts.
	Attempt() int
	Ack()
	Nack()
}

// Queue provides enqueue/dequeue semantics for run messages.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Dequeue(ctx context.Context, kind RunKind) (Delivery, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
