package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/seo-audit-worker/internal/publisher/memory"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/memory"
)

const testTopic = "runs-completed"

const testPage = `<html lang="en"><head>
<title>Blue widgets for every budget | Example</title>
<meta name="description" content="Compare blue widgets by price, size and durability before you buy.">
<link rel="canonical" href="https://example.com/widgets">
<meta name="viewport" content="width=device-width">
</head><body>
<h1>Blue widgets</h1>
<h2>What is a blue widget?</h2>
<p>A blue widget is a small device that does one job well.</p>
<img src="/w.png" alt="A blue widget">
<a href="/about">About</a>
</body></html>`

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

type harness struct {
	store   *memory.RunStore
	blobs   *memory.BlobStore
	events  *pubmemory.Publisher
	deps    Deps
	fetcher *stubFetcher
}

func newHarness() *harness {
	h := &harness{
		store:   memory.NewRunStore(),
		blobs:   memory.NewBlobStore(),
		events:  pubmemory.New(),
		fetcher: &stubFetcher{status: http.StatusOK, body: testPage},
	}
	h.deps = Deps{
		Store:     h.store,
		Archive:   h.blobs,
		Publisher: h.events,
		Hasher:    sha256.New(),
		Clock:     fixedClock{t: testNow},
		Topic:     testTopic,
	}
	return h
}

type stubFetcher struct {
	mu     sync.Mutex
	status int
	body   string
	err    error
	calls  int
}

func (f *stubFetcher) Fetch(_ context.Context, req audit.FetchRequest) (audit.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return audit.FetchResponse{}, f.err
	}
	return audit.FetchResponse{
		URL:        req.URL,
		StatusCode: f.status,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(f.body),
	}, nil
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubPerformance struct {
	enabled bool
	perf    audit.Performance
}

func (s stubPerformance) Enabled() bool { return s.enabled }

func (s stubPerformance) Fetch(context.Context, string) audit.Performance { return s.perf }

type stubInsights struct {
	mu       sync.Mutex
	enabled  bool
	result   audit.Insights
	err      error
	identity string
}

func (s *stubInsights) Enabled() bool { return s.enabled }

func (s *stubInsights) Fetch(_ context.Context, _ string, identity string) (audit.Insights, error) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return s.result, s.err
}

type recordingPurger struct {
	mu      sync.Mutex
	deleted []string
}

func (p *recordingPurger) DeleteToken(_ context.Context, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, identity)
	return nil
}

// faultyStore fails selected operations.
type faultyStore struct {
	*memory.RunStore
	failSave   error
	failStatus map[audit.RunStatus]error
}

func (s *faultyStore) SaveResult(ctx context.Context, id string, data []byte) error {
	if s.failSave != nil {
		return s.failSave
	}
	return s.RunStore.SaveResult(ctx, id, data)
}

func (s *faultyStore) UpdateRunStatus(ctx context.Context, id string, status audit.RunStatus, errText string) error {
	if err := s.failStatus[status]; err != nil {
		return err
	}
	return s.RunStore.UpdateRunStatus(ctx, id, status, errText)
}

var errDisk = errors.New("disk full")

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
