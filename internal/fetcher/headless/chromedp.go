// Package headless renders pages in Chrome for sites whose content only
// exists after client-side JavaScript runs.
package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
)

// Config controls the browser pool.
type Config struct {
	// MaxParallel caps concurrent renders. Zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so late
	// scripts can finish mutating the DOM.
	SettleDelay time.Duration
	// RemoteURL attaches to an existing DevTools endpoint instead of
	// launching a local Chrome.
	RemoteURL string
}

// Fetcher renders a page and returns the serialized DOM.
type Fetcher struct {
	cfg     Config
	slots   *semaphore.Weighted
	browser context.Context
	stop    context.CancelFunc
}

// NewChromedp prepares the allocator. Chrome itself starts lazily on the
// first render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	if cfg.RemoteURL != "" {
		f.browser, f.stop = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		return f, nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch renders request.URL. Navigation failures are network failures so
// the caller can fall back to the plain response.
func (f *Fetcher) Fetch(ctx context.Context, request audit.FetchRequest) (audit.FetchResponse, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return audit.FetchResponse{}, failure.Network("headless slot", err)
		}
		defer f.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	timeout := f.cfg.NavigationTimeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	tab, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	var html, location string
	started := time.Now()
	err := chromedp.Run(tab,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return audit.FetchResponse{}, failure.Network("headless render", err)
	}

	status, headers := doc.result()
	return audit.FetchResponse{
		URL:          firstNonEmpty(location, request.URL),
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(started),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return err
			}
		}
		if len(headers) == 0 {
			return nil
		}
		extra := make(network.Headers, len(headers))
		for name := range headers {
			extra[name] = strings.Join(headers.Values(name), ", ")
		}
		return network.SetExtraHTTPHeaders(extra).Do(ctx)
	})
}

// document records the last main document response seen by the tab, which
// after redirects is the page that was rendered.
type document struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func (d *document) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for name, value := range resp.Response.Headers {
		raw, _ := value.(string)
		// DevTools folds repeated headers into one newline-separated value.
		for _, v := range strings.Split(raw, "\n") {
			headers.Add(name, v)
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.mu.Unlock()
}

// result falls back to 200 when no document event arrived, which happens
// for pages served from the browser cache.
func (d *document) result() (int, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return http.StatusOK, http.Header{}
	}
	return d.status, d.headers.Clone()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
