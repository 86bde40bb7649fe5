// Package pagespeed fetches Core Web Vitals from the PageSpeed Insights API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
	"github.com/JakeFAU/seo-audit-worker/internal/retry"
)

const (
	// DefaultBaseURL is the public Google APIs host.
	DefaultBaseURL  = "https://www.googleapis.com"
	runPagespeedAPI = "/pagespeedonline/v5/runPagespeed"
	maxBodyBytes    = 16 << 20
)

// Config controls the PageSpeed client.
type Config struct {
	APIKey         string
	BaseURL        string
	Strategy       string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
}

// Client queries PageSpeed Insights. Fetch never returns an error: every
// failure becomes an unavailable result with a note.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      audit.Cache
	policy     retry.Policy
	logger     *zap.Logger
}

// New builds a Client. A nil cache disables caching.
func New(cfg Config, httpClient *http.Client, cache audit.Cache, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "mobile"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cache,
		policy:     retry.NewExponentialPolicy(cfg.MaxRetries+1, cfg.RetryBaseDelay, 8*cfg.RetryBaseDelay),
		logger:     logger,
	}
}

// Enabled reports whether an API key is configured. Callers skip Fetch
// entirely when it is not.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Fetch returns the Core Web Vitals of pageURL.
func (c *Client) Fetch(ctx context.Context, pageURL string) audit.Performance {
	if !c.Enabled() {
		return audit.UnavailablePerformance("PageSpeed API key not configured")
	}

	cacheKey := fmt.Sprintf("psi:%s:%s", c.cfg.Strategy, pageURL)
	if cached, ok := c.fromCache(ctx, cacheKey); ok {
		return cached
	}

	start := time.Now()
	var payload response
	attempts, err := retry.Do(ctx, c.policy, nil, func(ctx context.Context, attempt int) error {
		var callErr error
		payload, callErr = c.call(ctx, pageURL)
		if callErr != nil {
			c.logger.Warn("pagespeed attempt failed",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt),
				zap.Error(callErr),
			)
		}
		return callErr
	})
	if err != nil {
		metrics.ObserveSourceFetch("pagespeed", "error", time.Since(start))
		return audit.UnavailablePerformance(
			fmt.Sprintf("PageSpeed API error after %d attempts: %v", attempts, err))
	}
	metrics.ObserveSourceFetch("pagespeed", "ok", time.Since(start))

	result := payload.toPerformance()
	if result.Available {
		c.toCache(ctx, cacheKey, result)
	}
	return result
}

func (c *Client) call(ctx context.Context, pageURL string) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + runPagespeedAPI
	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("key", c.cfg.APIKey)
	params.Set("strategy", c.cfg.Strategy)
	params.Set("category", "performance")
	params.Set("prettyPrint", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return response{}, fmt.Errorf("build pagespeed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, failure.Network("pagespeed", redactKey(err, c.cfg.APIKey))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close pagespeed body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return response{}, failure.HTTPStatus(resp.StatusCode, endpoint)
	}

	var payload response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return response{}, failure.Parse(fmt.Errorf("decode pagespeed response: %w", err))
	}
	return payload, nil
}

func (c *Client) fromCache(ctx context.Context, key string) (audit.Performance, bool) {
	if c.cache == nil {
		return audit.Performance{}, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("pagespeed cache get failed", zap.String("key", key), zap.Error(err))
		return audit.Performance{}, false
	}
	if !ok {
		return audit.Performance{}, false
	}
	var perf audit.Performance
	if err := json.Unmarshal(raw, &perf); err != nil {
		return audit.Performance{}, false
	}
	return perf, true
}

func (c *Client) toCache(ctx context.Context, key string, perf audit.Performance) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(perf)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("pagespeed cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// redactKey strips the API key from transport errors, which embed the URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), key, "REDACTED"))
}
