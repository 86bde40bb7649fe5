package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/hash/sha256"
	queuememory "github.com/JakeFAU/seo-audit-worker/internal/queue/memory"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/memory"
)

type testEnv struct {
	server *Server
	runs   *memory.RunStore
	queue  *queuememory.Queue
}

func newTestEnv(t *testing.T, cfg Config, ids ...string) testEnv {
	t.Helper()
	runs := memory.NewRunStore()
	q := queuememory.NewQueue(10, time.Millisecond)
	t.Cleanup(q.Close)
	deps := Deps{
		Runs:   runs,
		Queue:  q,
		IDs:    &fakeIDGen{ids: ids},
		Clock:  &fakeClock{now: time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)},
		Hasher: sha256.New(),
	}
	return testEnv{server: NewServer(deps, cfg, zap.NewNop()), runs: runs, queue: q}
}

func (e testEnv) do(t *testing.T, method, path string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitAudit_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, "run-audit")
	rec := env.do(t, http.MethodPost, "/v1/audits",
		[]byte(`{"url":" https://example.com/page ","target_keyword":"coffee","email":"a@b.c","account_id":"acct-1"}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted runAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "run-audit", accepted.RunID)
	assert.Equal(t, audit.StatusQueued, accepted.Status)

	run, err := env.runs.GetRun(context.Background(), "run-audit")
	require.NoError(t, err)
	assert.Equal(t, audit.KindAudit, run.Kind)
	assert.Equal(t, "https://example.com/page", run.Input.URL)
	assert.Equal(t, "coffee", run.Input.TargetKeyword)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivery, err := env.queue.Dequeue(ctx, audit.KindAudit)
	require.NoError(t, err)
	require.NotNil(t, delivery.Message().Audit)
	assert.Equal(t, "run-audit", delivery.Message().Audit.RunID)
	assert.Equal(t, "acct-1", delivery.Message().Audit.AccountID)
}

func TestServer_SubmitAudit_RejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"ftp://example.com"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.queue.Len(audit.KindAudit))
}

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, "crawl-1")
	rec := env.do(t, http.MethodPost, "/v1/crawls",
		[]byte(`{"start_url":"https://example.com","limit":20,"same_host_only":false,"max_depth":0,"timeout_ms":2500}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	run, err := env.runs.GetRun(context.Background(), "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, audit.KindCrawl, run.Kind)
	require.NotNil(t, run.Input.Crawl)
	assert.Equal(t, 20, *run.Input.Crawl.Limit)
	assert.Equal(t, 0, *run.Input.Crawl.MaxDepth)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivery, err := env.queue.Dequeue(ctx, audit.KindCrawl)
	require.NoError(t, err)
	job := delivery.Message().Crawl
	require.NotNil(t, job)
	assert.Equal(t, "crawl-1", job.CrawlID)
	assert.False(t, *job.SameHostOnly)
	assert.Equal(t, 2500, *job.Timeout)
}

func TestServer_SubmitCrawl_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	cases := map[string]string{
		"missing url":    `{"limit":5}`,
		"zero limit":     `{"start_url":"https://example.com","limit":0}`,
		"negative depth": `{"start_url":"https://example.com","max_depth":-1}`,
		"zero timeout":   `{"start_url":"https://example.com","timeout_ms":0}`,
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/crawls", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestServer_SubmitEnqueueFailure(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	server := NewServer(Deps{
		Runs:  runs,
		Queue: failingQueue{},
		IDs:   &fakeIDGen{ids: []string{"run-x"}},
		Clock: &fakeClock{now: time.Unix(100, 0)},
	}, Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewReader([]byte(`{"url":"https://example.com"}`)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	_, err := runs.GetRun(context.Background(), "run-x")
	require.ErrorIs(t, err, audit.ErrNotFound, "a run that was never enqueued must not linger as queued")
}

func TestServer_SubmitWithCallerID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/audits", []byte(`{"run_id":"order-42","url":"https://example.com"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted runAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "order-42", accepted.RunID)

	rec = env.do(t, http.MethodPost, "/v1/crawls", []byte(`{"crawl_id":"site-7","start_url":"https://example.com"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	run, err := env.runs.GetRun(context.Background(), "site-7")
	require.NoError(t, err)
	assert.Equal(t, audit.KindCrawl, run.Kind)

	rec = env.do(t, http.MethodPost, "/v1/audits", []byte(`{"run_id":"order-42","url":"https://example.com/other"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, env.queue.Len(audit.KindAudit))

	for _, bad := range []string{"../etc", "has space", "-leading"} {
		body, _ := json.Marshal(map[string]string{"run_id": bad, "url": "https://example.com"})
		rec = env.do(t, http.MethodPost, "/v1/audits", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, "run-1")
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"https://example.com"}`)).Code)

	rec := env.do(t, http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run audit.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, audit.StatusQueued, run.Status)

	rec = env.do(t, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetResultByStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, "run-r")
	ctx := context.Background()
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"https://example.com"}`)).Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/runs/nope/result", nil).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodGet, "/v1/runs/run-r/result", nil).Code)

	require.NoError(t, env.runs.UpdateRunStatus(ctx, "run-r", audit.StatusRunning, ""))
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodGet, "/v1/runs/run-r/result", nil).Code)

	body := []byte(`{"url":"https://example.com","scores":{"overall":88}}`)
	require.NoError(t, env.runs.SaveResult(ctx, "run-r", body))
	require.NoError(t, env.runs.UpdateRunStatus(ctx, "run-r", audit.StatusReady, ""))

	rec := env.do(t, http.MethodGet, "/v1/runs/run-r/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(body), rec.Body.String())
	sum, err := sha256.New().Hash(body)
	require.NoError(t, err)
	assert.Equal(t, sum, rec.Header().Get("X-Result-SHA256"))
}

func TestServer_GetResultFailedRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, "run-f")
	ctx := context.Background()
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"https://example.com"}`)).Code)
	require.NoError(t, env.runs.UpdateRunStatus(ctx, "run-f", audit.StatusRunning, ""))
	require.NoError(t, env.runs.UpdateRunStatus(ctx, "run-f", audit.StatusFailed, "http status 404"))

	rec := env.do(t, http.MethodGet, "/v1/runs/run-f/result", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "http status 404")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{APIKey: "secret"}, "run-k")

	rec := env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"https://example.com"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audits", []byte(`{"url":"https://example.com"}`), "X-API-Key", "secret")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Ready: map[string]ReadinessCheck{
		"store": func(context.Context) error { return nil },
		"queue": func(context.Context) error { return errors.New("broker down") },
	}}, Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker down")
	assert.NotContains(t, rec.Body.String(), `"store"`)

	server = NewServer(Deps{}, Config{}, zap.NewNop())
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/healthz", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, audit.Message) error {
	return errors.New("queue full")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
