package crawler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
)

type fakePage struct {
	status int
	body   string
	err    error
	delay  time.Duration
}

type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	dynamic func(url string) (fakePage, bool)
	fetched []string
}

func (s *fakeSite) Fetch(ctx context.Context, req audit.FetchRequest) (audit.FetchResponse, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, req.URL)
	p, ok := s.pages[req.URL]
	if !ok && s.dynamic != nil {
		p, ok = s.dynamic(req.URL)
	}
	s.mu.Unlock()
	if !ok {
		p = fakePage{status: http.StatusNotFound, body: "not found"}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return audit.FetchResponse{}, failure.Network("fetch", ctx.Err())
		}
	}
	if p.err != nil {
		return audit.FetchResponse{}, p.err
	}
	return audit.FetchResponse{
		URL:        req.URL,
		StatusCode: p.status,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(p.body),
	}, nil
}

func (s *fakeSite) wasFetched(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.fetched {
		if u == url {
			return true
		}
	}
	return false
}

func html(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1>")
	for _, l := range links {
		b.WriteString(`<a href="` + l + `">` + l + `</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func ok(body string) fakePage { return fakePage{status: http.StatusOK, body: body} }

func testOptions() Options {
	opts := DefaultOptions()
	opts.OverallTimeout = 5 * time.Second
	return opts
}

func TestCrawl_RespectsPageAndDepthBudgets(t *testing.T) {
	t.Parallel()
	// Every page links to ten children, so the site is effectively unbounded.
	site := &fakeSite{dynamic: func(url string) (fakePage, bool) {
		if strings.HasSuffix(url, ".txt") || strings.HasSuffix(url, ".xml") {
			return fakePage{}, false
		}
		links := make([]string, 10)
		for i := range links {
			links[i] = fmt.Sprintf("%s/%d", strings.TrimSuffix(url, "/"), i)
		}
		return ok(html("Page "+url, links...)), true
	}}
	opts := testOptions()
	opts.Limit = 50
	opts.MaxDepth = 2

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)

	require.NoError(t, err)
	assert.Len(t, result.Pages, 50)
	for _, p := range result.Pages {
		assert.LessOrEqual(t, p.Depth, 2)
	}
	assert.True(t, result.Truncated)
	assert.Equal(t, StopPageLimit, result.StopReason)
	assert.Equal(t, 50, result.Config.Limit)
	assert.Equal(t, 2, result.Config.MaxDepth)
}

func TestCrawl_DiscoveryOrder(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://example.com/":  ok(html("Home", "/a", "/b", "/c")),
		"https://example.com/a": fakePage{status: http.StatusOK, body: html("A", "/d"), delay: 30 * time.Millisecond},
		"https://example.com/b": ok(html("B")),
		"https://example.com/c": ok(html("C")),
		"https://example.com/d": ok(html("D")),
	}}

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com", testOptions())

	require.NoError(t, err)
	var urls []string
	for _, p := range result.Pages {
		urls = append(urls, p.URL)
	}
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, urls)
	assert.Equal(t, 2, result.Pages[4].Depth)
	assert.Equal(t, "https://example.com/a", result.Pages[4].FoundOn)
	assert.False(t, result.Truncated)
}

func TestCrawl_BrokenLinksAndIssues(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://example.com/":     ok(html("Home", "/a", "/b", "/gone", "/down", "https://other.com/x")),
		"https://example.com/a":    ok(html("Same")),
		"https://example.com/b":    ok(html("Same")),
		"https://example.com/down": {err: failure.Network("fetch", errors.New("connection reset"))},
	}}

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", testOptions())

	require.NoError(t, err)
	require.Len(t, result.Pages, 5)
	assert.False(t, site.wasFetched("https://other.com/x"))
	assert.Equal(t, 4, result.Pages[0].InternalLinks)
	assert.Equal(t, 1, result.Pages[0].ExternalLinks)

	require.Len(t, result.BrokenLinks, 2)
	assert.Equal(t, "https://example.com/gone", result.BrokenLinks[0].URL)
	assert.Equal(t, http.StatusNotFound, result.BrokenLinks[0].Status)
	assert.Equal(t, "https://example.com/", result.BrokenLinks[0].FoundOn)
	assert.NotEmpty(t, result.BrokenLinks[1].Error)

	require.Len(t, result.DuplicateTitles, 1)
	assert.Equal(t, "Same", result.DuplicateTitles[0].Value)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, result.DuplicateTitles[0].URLs)

	assert.Equal(t, 2, result.Issues.BrokenLinks)
	assert.Equal(t, 1, result.Issues.DuplicateTitles)
	assert.Equal(t, 3, result.Issues.PagesWithoutCanonical)
	assert.Equal(t, 3, result.Summary.SuccessfulPages)
	assert.Equal(t, 2, result.Summary.FailedPages)
}

func TestCrawl_StartFailureIsReturned(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://down.example/": {err: failure.Network("fetch", errors.New("no such host"))},
	}}

	_, err := New(site, nil, "", nil).Crawl(context.Background(), "https://down.example/", testOptions())
	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))

	_, err = New(&fakeSite{}, nil, "", nil).Crawl(context.Background(), "https://missing.example/", testOptions())
	require.Error(t, err)
	assert.Equal(t, failure.Permanent, failure.Classify(err))
	assert.Equal(t, http.StatusNotFound, failure.StatusCode(err))
}

func TestCrawl_InvalidStartURL(t *testing.T) {
	t.Parallel()
	_, err := New(&fakeSite{}, nil, "", nil).Crawl(context.Background(), "not a url", testOptions())
	require.Error(t, err)
	assert.Equal(t, failure.Permanent, failure.Classify(err))
}

func TestCrawl_RobotsAndSitemap(t *testing.T) {
	t.Parallel()
	pages := map[string]fakePage{
		"https://example.com/robots.txt": ok("User-agent: *\nDisallow: /private\nSitemap: https://example.com/sitemap.xml\n"),
		"https://example.com/sitemap.xml": ok(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc></url>
  <url><loc>https://example.com/public</loc></url>
</urlset>`),
		"https://example.com/":             ok(html("Home", "/public", "/private/page")),
		"https://example.com/public":       ok(html("Public")),
		"https://example.com/private/page": ok(html("Private")),
	}

	respecting := &fakeSite{pages: pages}
	result, err := New(respecting, nil, "", nil).Crawl(context.Background(), "https://example.com/", testOptions())
	require.NoError(t, err)
	assert.True(t, result.Robots.Present)
	assert.True(t, result.Robots.StartAllowed)
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, result.Robots.Sitemaps)
	assert.True(t, result.Sitemap.Present)
	assert.Equal(t, 2, result.Sitemap.URLCount)
	assert.Len(t, result.Pages, 2)
	assert.False(t, respecting.wasFetched("https://example.com/private/page"))

	opts := testOptions()
	opts.RespectRobots = false
	ignoring := &fakeSite{pages: pages}
	result, err = New(ignoring, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)
	require.NoError(t, err)
	assert.Len(t, result.Pages, 3)
}

func TestCrawl_MissingRobotsAndSitemap(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{"https://example.com/": ok(html("Home"))}}

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", testOptions())

	require.NoError(t, err)
	assert.False(t, result.Robots.Present)
	assert.Equal(t, http.StatusNotFound, result.Robots.Status)
	assert.True(t, result.Robots.StartAllowed)
	assert.False(t, result.Sitemap.Present)
	assert.Equal(t, http.StatusNotFound, result.Sitemap.Status)
}

func TestCrawl_NormalizedDuplicates(t *testing.T) {
	t.Parallel()
	pages := map[string]fakePage{
		"https://example.com/": ok(`<html><head><title>Home</title><link rel="canonical" href="https://example.com/"></head>
<body><a href="/a">a</a></body></html>`),
		"https://example.com/a": ok(`<html><head><title>  HOME </title><link rel="canonical" href="https://Example.com/?ref=x"></head></html>`),
	}

	raw, err := New(&fakeSite{pages: pages}, nil, "", nil).Crawl(context.Background(), "https://example.com/", testOptions())
	require.NoError(t, err)
	assert.Empty(t, raw.DuplicateTitles)
	assert.Empty(t, raw.DuplicateCanonicals)

	opts := testOptions()
	opts.NormalizeDuplicates = true
	norm, err := New(&fakeSite{pages: pages}, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)
	require.NoError(t, err)
	require.Len(t, norm.DuplicateTitles, 1)
	assert.Equal(t, "home", norm.DuplicateTitles[0].Value)
	require.Len(t, norm.DuplicateCanonicals, 1)
	assert.Equal(t, "https://example.com/", norm.DuplicateCanonicals[0].Value)
}

func TestCrawl_TimeBudget(t *testing.T) {
	t.Parallel()
	site := &fakeSite{dynamic: func(url string) (fakePage, bool) {
		if strings.HasSuffix(url, ".txt") || strings.HasSuffix(url, ".xml") {
			return fakePage{}, false
		}
		if url == "https://example.com/" {
			return ok(html("Home", "/slow1", "/slow2")), true
		}
		return fakePage{status: http.StatusOK, body: html("Slow"), delay: time.Second}, true
	}}
	opts := testOptions()
	opts.OverallTimeout = 150 * time.Millisecond

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)

	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, StopTimeBudget, result.StopReason)
	assert.Len(t, result.Pages, 1)
}

func TestCrawl_CancellationIsReturnedNotReported(t *testing.T) {
	t.Parallel()
	site := &fakeSite{dynamic: func(url string) (fakePage, bool) {
		if strings.HasSuffix(url, ".txt") || strings.HasSuffix(url, ".xml") {
			return fakePage{}, false
		}
		if url == "https://example.com/" {
			return ok(html("Home", "/a", "/b", "/c")), true
		}
		return fakePage{status: http.StatusOK, body: html("Slow"), delay: 5 * time.Second}, true
	}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	result, err := New(site, nil, "", nil).Crawl(ctx, "https://example.com/", testOptions())

	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Pages)
	assert.Empty(t, result.BrokenLinks)
}

func TestCrawl_SlowRobotsDoesNotStarveStartURL(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://example.com/robots.txt": {status: http.StatusOK, body: "User-agent: *\nDisallow:\n", delay: time.Second},
		"https://example.com/":           ok(html("Home")),
	}}
	opts := testOptions()
	opts.OverallTimeout = 100 * time.Millisecond

	result, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)

	require.NoError(t, err)
	assert.True(t, site.wasFetched("https://example.com/"))
	require.Len(t, result.Pages, 1)
	assert.Equal(t, "Home", result.Pages[0].Title)
	assert.True(t, result.Robots.StartAllowed)
	assert.False(t, result.Robots.Present)
}

func TestCrawl_NoPageWithinBudgetIsAnError(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://example.com/": {status: http.StatusOK, body: html("Home"), delay: time.Second},
	}}
	opts := testOptions()
	opts.OverallTimeout = 50 * time.Millisecond

	_, err := New(site, nil, "", nil).Crawl(context.Background(), "https://example.com/", opts)

	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingPoliteness lets the start page through and holds every later
// request until ctx ends.
type blockingPoliteness struct{}

func (blockingPoliteness) Wait(ctx context.Context, rawURL string) error {
	if strings.HasSuffix(rawURL, ".txt") || strings.HasSuffix(rawURL, ".xml") || strings.HasSuffix(rawURL, ".com/") {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("rate limit wait: %w", ctx.Err())
}

func (blockingPoliteness) ReportResult(string, int) {}

func TestCrawl_PolitenessWaitStopReason(t *testing.T) {
	t.Parallel()
	pages := map[string]fakePage{
		"https://example.com/":  ok(html("Home", "/a")),
		"https://example.com/a": ok(html("A")),
	}

	opts := testOptions()
	opts.OverallTimeout = 100 * time.Millisecond
	result, err := New(&fakeSite{pages: pages}, blockingPoliteness{}, "", nil).
		Crawl(context.Background(), "https://example.com/", opts)
	require.NoError(t, err)
	assert.Equal(t, StopTimeBudget, result.StopReason)
	assert.Len(t, result.Pages, 1)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = New(&fakeSite{pages: pages}, blockingPoliteness{}, "", nil).
		Crawl(ctx, "https://example.com/", testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, stopCancelled, stopReason(fmt.Errorf("wait: %w", context.Canceled)))
	assert.Equal(t, StopTimeBudget, stopReason(context.DeadlineExceeded))
	assert.Equal(t, StopTimeBudget, stopReason(errors.New("rate: Wait(n=1) would exceed context deadline")))
}

type recordingPoliteness struct {
	mu       sync.Mutex
	waits    int
	statuses []int
}

func (r *recordingPoliteness) Wait(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
	return nil
}

func (r *recordingPoliteness) ReportResult(_ string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func TestCrawl_UsesPoliteness(t *testing.T) {
	t.Parallel()
	site := &fakeSite{pages: map[string]fakePage{
		"https://example.com/":  ok(html("Home", "/a")),
		"https://example.com/a": ok(html("A")),
	}}
	polite := &recordingPoliteness{}

	_, err := New(site, polite, "", nil).Crawl(context.Background(), "https://example.com/", testOptions())

	require.NoError(t, err)
	// robots.txt, sitemap.xml and two pages.
	assert.Equal(t, 4, polite.waits)
	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, polite.statuses)
}

func TestExportCSV(t *testing.T) {
	t.Parallel()
	result := audit.CrawlResult{Pages: []audit.CrawlPage{
		{URL: "https://example.com/", Status: 200, Title: `Say "hi", friend`, H1Present: true, H1Count: 1},
		{URL: "https://example.com/x", Depth: 1, Status: 404, FoundOn: "https://example.com/"},
	}}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, result))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, `Say "hi", friend`, rows[1][3])
	assert.Equal(t, "Yes", rows[1][4])
	assert.Equal(t, "404", rows[2][2])
	assert.Equal(t, "https://example.com/", rows[2][17])
}
