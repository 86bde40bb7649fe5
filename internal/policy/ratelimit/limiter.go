// Package ratelimit spaces requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
)

// Config holds politeness settings.
type Config struct {
	// Interval is the minimum gap between requests to one host. Zero
	// disables limiting.
	Interval time.Duration
	// MaxInterval caps the slowdown applied after throttling responses.
	MaxInterval time.Duration
}

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval * 16
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		limit := rate.Inf
		if l.cfg.Interval > 0 {
			limit = rate.Every(l.cfg.Interval)
		}
		lim = rate.NewLimiter(limit, 1)
		l.limiters[host] = lim
	}
	return lim
}

// Wait blocks until a request to rawURL's host may proceed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.limiterFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// ReportResult doubles the host interval after 429 or 503 responses, up
// to MaxInterval.
func (l *Limiter) ReportResult(rawURL string, statusCode int) {
	if l.cfg.Interval <= 0 {
		return
	}
	if statusCode != http.StatusTooManyRequests && statusCode != http.StatusServiceUnavailable {
		return
	}
	lim := l.limiterFor(hostOf(rawURL))
	current := time.Duration(float64(time.Second) / float64(lim.Limit()))
	next := current * 2
	if next > l.cfg.MaxInterval {
		next = l.cfg.MaxInterval
	}
	lim.SetLimit(rate.Every(next))
}

// Interval returns the current gap enforced for rawURL's host.
func (l *Limiter) Interval(rawURL string) time.Duration {
	lim := l.limiterFor(hostOf(rawURL))
	if lim.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(lim.Limit()))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
