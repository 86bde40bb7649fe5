package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

type stubFetcher struct {
	resp  audit.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, audit.FetchRequest) (audit.FetchResponse, error) {
	s.calls++
	return s.resp, s.err
}

type stubDetector bool

func (d stubDetector) ShouldPromote(audit.FetchResponse) bool { return bool(d) }

func TestPromoting_PlainWhenNotFlagged(t *testing.T) {
	plain := &stubFetcher{resp: audit.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	browser := &stubFetcher{}
	p := NewPromoting(plain, browser, stubDetector(false), nil)

	resp, err := p.Fetch(context.Background(), audit.FetchRequest{URL: "https://example.com"})

	require.NoError(t, err)
	assert.Equal(t, "plain", string(resp.Body))
	assert.Zero(t, browser.calls)
}

func TestPromoting_RendersWhenFlagged(t *testing.T) {
	plain := &stubFetcher{resp: audit.FetchResponse{StatusCode: 200}}
	browser := &stubFetcher{resp: audit.FetchResponse{StatusCode: 200, Body: []byte("rendered"), UsedHeadless: true}}
	p := NewPromoting(plain, browser, stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), audit.FetchRequest{URL: "https://example.com"})

	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)
	assert.Equal(t, "rendered", string(resp.Body))
}

func TestPromoting_FallsBackOnRenderError(t *testing.T) {
	plain := &stubFetcher{resp: audit.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	browser := &stubFetcher{err: errors.New("chrome missing")}
	p := NewPromoting(plain, browser, stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), audit.FetchRequest{URL: "https://example.com"})

	require.NoError(t, err)
	assert.Equal(t, "plain", string(resp.Body))
}

func TestPromoting_ForcedHeadless(t *testing.T) {
	plain := &stubFetcher{}
	browser := &stubFetcher{resp: audit.FetchResponse{UsedHeadless: true}}
	p := NewPromoting(plain, browser, nil, nil)

	resp, err := p.Fetch(context.Background(), audit.FetchRequest{URL: "https://example.com", UseHeadless: true})

	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)
	assert.Zero(t, plain.calls)
}

func TestPromoting_PlainErrorPropagates(t *testing.T) {
	plain := &stubFetcher{err: errors.New("dial")}
	p := NewPromoting(plain, &stubFetcher{}, stubDetector(true), nil)

	_, err := p.Fetch(context.Background(), audit.FetchRequest{URL: "https://example.com"})

	require.Error(t, err)
}
