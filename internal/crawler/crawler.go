// Package crawler walks a site breadth-first under page, depth and time
// budgets and aggregates a technical SEO report.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
	"github.com/JakeFAU/seo-audit-worker/internal/parser"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

// Stop reasons recorded on truncated crawls.
const (
	StopPageLimit  = "page_limit"
	StopTimeBudget = "time_budget"

	// stopCancelled never reaches a result: a cancelled crawl is returned
	// as an error so the run is redelivered.
	stopCancelled = "cancelled"
)

// maxSiteFileTimeout bounds the robots.txt and sitemap.xml fetches.
const maxSiteFileTimeout = 5 * time.Second

// DefaultUserAgent is matched against robots.txt groups.
const DefaultUserAgent = "SEO-Audit-Crawler/1.0"

// Options bounds one crawl.
type Options struct {
	Limit               int
	SameHostOnly        bool
	MaxDepth            int
	PageTimeout         time.Duration
	OverallTimeout      time.Duration
	Concurrency         int
	RespectRobots       bool
	NormalizeDuplicates bool
}

// DefaultOptions returns the documented crawl defaults.
func DefaultOptions() Options {
	return Options{
		Limit:          200,
		SameHostOnly:   true,
		MaxDepth:       5,
		PageTimeout:    10 * time.Second,
		OverallTimeout: 2 * time.Minute,
		Concurrency:    3,
		RespectRobots:  true,
	}
}

func (o Options) sanitized() Options {
	def := DefaultOptions()
	if o.Limit <= 0 {
		o.Limit = def.Limit
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = def.PageTimeout
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = def.OverallTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	return o
}

func (o Options) config() audit.CrawlConfig {
	return audit.CrawlConfig{
		Limit:               o.Limit,
		SameHostOnly:        o.SameHostOnly,
		MaxDepth:            o.MaxDepth,
		TimeoutMs:           o.PageTimeout.Milliseconds(),
		OverallTimeoutMs:    o.OverallTimeout.Milliseconds(),
		Concurrency:         o.Concurrency,
		RespectRobots:       o.RespectRobots,
		NormalizeDuplicates: o.NormalizeDuplicates,
	}
}

// Politeness spaces requests per host and learns from throttling responses.
type Politeness interface {
	Wait(ctx context.Context, rawURL string) error
	ReportResult(rawURL string, statusCode int)
}

// Crawler runs bounded site crawls. It is safe for concurrent use.
type Crawler struct {
	fetcher   audit.Fetcher
	polite    Politeness
	userAgent string
	logger    *zap.Logger
}

// New builds a Crawler. polite may be nil.
func New(fetcher audit.Fetcher, polite Politeness, userAgent string, logger *zap.Logger) *Crawler {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{fetcher: fetcher, polite: polite, userAgent: userAgent, logger: logger}
}

type queued struct {
	url     string
	depth   int
	foundOn string
}

type outcome struct {
	page  audit.CrawlPage
	links []string
	err   error
	// stop is set when the page was never fetched because the crawl
	// ran out of time or was cancelled.
	stop string
}

// Crawl visits startURL and the pages reachable from it. A failure of the
// start URL, a crawl that fetched no page at all, and cancellation of ctx
// are returned as errors. Everything else ends in a (possibly truncated)
// result.
func (c *Crawler) Crawl(ctx context.Context, startURL string, opts Options) (audit.CrawlResult, error) {
	opts = opts.sanitized()
	began := time.Now()

	normalized, err := urlutil.Normalize(startURL)
	if err != nil || !urlutil.IsHTTP(normalized) {
		return audit.CrawlResult{}, failure.Parse(fmt.Errorf("invalid start url %q", startURL))
	}
	start, err := url.Parse(normalized)
	if err != nil {
		return audit.CrawlResult{}, failure.Parse(fmt.Errorf("parse start url: %w", err))
	}

	crawlCtx, cancel := context.WithTimeout(ctx, opts.OverallTimeout)
	defer cancel()

	result := audit.CrawlResult{
		StartURL:    normalized,
		Config:      opts.config(),
		Pages:       []audit.CrawlPage{},
		BrokenLinks: []audit.BrokenLink{},
	}

	files := c.fetchSiteFiles(crawlCtx, start, opts)
	var rules robotsRules
	collect := func() {
		if files == nil {
			return
		}
		p := <-files
		files = nil
		result.Robots, result.Sitemap, rules = p.robots, p.sitemap, p.rules
	}

	visited := map[string]struct{}{normalized: {}}
	frontier := []queued{{url: normalized, depth: 0}}
	site := metrics.SanitizeSite(normalized)

	for len(frontier) > 0 {
		if err := crawlCtx.Err(); err != nil {
			result.Truncated, result.StopReason = true, stopReason(err)
			break
		}
		remaining := opts.Limit - len(result.Pages)
		if remaining <= 0 {
			result.Truncated, result.StopReason = true, StopPageLimit
			break
		}
		batch := frontier
		if len(batch) > remaining {
			batch = batch[:remaining]
		}

		outcomes := c.visitAll(crawlCtx, batch, opts)
		// Links from the start page are filtered by robots.txt.
		collect()

		var next []queued
		for i, out := range outcomes {
			item := batch[i]
			if out.stop != "" {
				result.Truncated, result.StopReason = true, out.stop
				continue
			}
			if item.depth == 0 && out.err != nil {
				return audit.CrawlResult{}, fmt.Errorf("fetch start url: %w", out.err)
			}
			result.Pages = append(result.Pages, out.page)
			metrics.ObserveCrawlPage(site, pageOutcome(out.page))

			if item.depth >= opts.MaxDepth {
				continue
			}
			for _, link := range out.links {
				norm, err := urlutil.Normalize(link)
				if err != nil {
					continue
				}
				if opts.SameHostOnly && !urlutil.SameSite(normalized, norm) {
					continue
				}
				if _, seen := visited[norm]; seen {
					continue
				}
				if opts.RespectRobots && !rules.allowed(norm) {
					continue
				}
				visited[norm] = struct{}{}
				next = append(next, queued{url: norm, depth: item.depth + 1, foundOn: out.page.URL})
			}
		}
		if result.StopReason != "" {
			break
		}
		frontier = append(frontier[len(batch):len(frontier):len(frontier)], next...)
	}
	collect()

	if err := ctx.Err(); err != nil {
		return audit.CrawlResult{}, failure.Network("crawl interrupted", err)
	}
	if len(result.Pages) == 0 {
		return audit.CrawlResult{}, failure.Network("fetch start url",
			fmt.Errorf("no page fetched within %s: %w", opts.OverallTimeout, context.DeadlineExceeded))
	}

	aggregate(&result, opts.NormalizeDuplicates)
	result.CrawlTimeMs = time.Since(began).Milliseconds()
	c.logger.Info("crawl finished",
		zap.String("start_url", normalized),
		zap.Int("pages", len(result.Pages)),
		zap.Bool("truncated", result.Truncated),
		zap.String("stop_reason", result.StopReason),
		zap.Int64("crawl_time_ms", result.CrawlTimeMs),
	)
	return result, nil
}

// visitAll fetches one frontier level with bounded concurrency. Outcomes
// are indexed like batch so bookkeeping follows discovery order.
func (c *Crawler) visitAll(ctx context.Context, batch []queued, opts Options) []outcome {
	outcomes := make([]outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, item := range batch {
		g.Go(func() error {
			outcomes[i] = c.visit(ctx, item, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Crawler) visit(ctx context.Context, item queued, opts Options) outcome {
	if c.polite != nil {
		if err := c.polite.Wait(ctx, item.url); err != nil {
			return outcome{stop: stopReason(err)}
		}
	}
	if err := ctx.Err(); err != nil {
		return outcome{stop: stopReason(err)}
	}

	began := time.Now()
	resp, err := c.fetcher.Fetch(ctx, audit.FetchRequest{
		URL:     item.url,
		Timeout: opts.PageTimeout,
		Headers: c.headers(),
	})
	page := audit.CrawlPage{
		URL:        item.url,
		Depth:      item.depth,
		FoundOn:    item.foundOn,
		LoadTimeMs: time.Since(began).Milliseconds(),
	}
	if err != nil {
		// A fetch cut short by the crawl context is not a broken page.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{stop: stopReason(ctxErr)}
		}
		page.Status = failure.StatusCode(err)
		page.Error = err.Error()
		return outcome{page: page, err: err}
	}
	if c.polite != nil {
		c.polite.ReportResult(item.url, resp.StatusCode)
	}
	page.Status = resp.StatusCode
	if item.depth == 0 && resp.StatusCode >= http.StatusBadRequest {
		return outcome{page: page, err: failure.HTTPStatus(resp.StatusCode, item.url)}
	}
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers) {
		return outcome{page: page}
	}

	sig := parser.ParseSignals(string(resp.Body), resp.URL)
	page.Title = sig.Title
	page.H1Count = sig.H1Count
	page.H1Present = sig.H1Count > 0
	page.H2Count = sig.H2Count
	page.H3Count = sig.H3Count
	page.MetaDescription = sig.MetaDescription
	page.WordCount = sig.WordCount
	page.ImagesTotal = sig.ImagesTotal
	page.ImagesMissingAlt = sig.ImagesMissingAlt
	page.Noindex = sig.Noindex
	page.Canonical = sig.Canonical
	for _, link := range sig.Links {
		if urlutil.SameSite(resp.URL, link) {
			page.InternalLinks++
		} else {
			page.ExternalLinks++
		}
	}
	return outcome{page: page, links: sig.Links}
}

// stopReason labels an unfetched page. The rate limiter refuses waits that
// would overrun the deadline without returning a context error, so
// anything other than cancellation counts against the time budget.
func stopReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return stopCancelled
	}
	return StopTimeBudget
}

// fetchAux fetches robots.txt or sitemap.xml under the same politeness rules.
func (c *Crawler) fetchAux(ctx context.Context, rawURL string, opts Options) (audit.FetchResponse, error) {
	if c.polite != nil {
		if err := c.polite.Wait(ctx, rawURL); err != nil {
			return audit.FetchResponse{}, err
		}
	}
	return c.fetcher.Fetch(ctx, audit.FetchRequest{URL: rawURL, Timeout: opts.PageTimeout, Headers: c.headers()})
}

func (c *Crawler) headers() http.Header {
	return http.Header{
		"User-Agent":      {c.userAgent},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
	}
}

func isHTML(h http.Header) bool {
	ct := strings.ToLower(h.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

func pageOutcome(p audit.CrawlPage) string {
	switch {
	case p.Error != "":
		return "error"
	case p.Status >= http.StatusBadRequest:
		return "http_error"
	default:
		return "ok"
	}
}
