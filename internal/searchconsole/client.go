// Package searchconsole reads top queries for a page from Google Search Console.
package searchconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsc "google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
)

const (
	// AuthRequiredMessage is reported when the identity has no token.
	AuthRequiredMessage = "Search Console authentication required. Connect your Google account to see search insights."
	// NotConfiguredMessage is reported when OAuth credentials are absent.
	NotConfiguredMessage = "Search Console not configured"
	scope               = "https://www.googleapis.com/auth/webmasters.readonly"
	lookbackDays        = 28
	rowLimit            = 10
)

// Config controls the Search Console client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the API base URL (tests, proxies).
	Endpoint string
	// TokenURL overrides the OAuth token endpoint.
	TokenURL string
	CacheTTL time.Duration
}

// Client fetches Search Console insights on behalf of an identity.
type Client struct {
	cfg    Config
	oauth  *oauth2.Config
	tokens TokenStore
	cache  audit.Cache
	clock  audit.Clock
	base   *http.Client
	logger *zap.Logger
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New builds a Client. base is the transport used underneath the OAuth
// round tripper; nil uses http.DefaultClient.
func New(cfg Config, tokens TokenStore, cache audit.Cache, clock audit.Clock, base *http.Client, logger *zap.Logger) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{scope},
		},
		tokens: tokens,
		cache:  cache,
		clock:  clock,
		base:   base,
		logger: logger,
	}
}

// Enabled reports whether OAuth client credentials and a token store exist.
func (c *Client) Enabled() bool {
	return c != nil && c.tokens != nil && c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthCodeURL returns the consent URL for identity.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (c *Client) Exchange(ctx context.Context, identity, code string) error {
	tok, err := c.oauth.Exchange(c.baseContext(ctx), code)
	if err != nil {
		return classify(err)
	}
	return c.tokens.SaveToken(ctx, identity, tok)
}

// Fetch returns the top queries for pageURL. Missing tokens and unmatched
// properties are reported as unavailable insights with a nil error.
func (c *Client) Fetch(ctx context.Context, pageURL, identity string) (audit.Insights, error) {
	if !c.Enabled() {
		return audit.UnavailableInsights(NotConfiguredMessage), nil
	}
	tok, err := c.tokens.Token(ctx, identity)
	if errors.Is(err, audit.ErrNotFound) {
		return audit.UnavailableInsights(AuthRequiredMessage), nil
	}
	if err != nil {
		return audit.Insights{}, failure.Storage(fmt.Errorf("load search console token: %w", err))
	}

	cacheKey := fmt.Sprintf("gsc:%s:%s", normalizeIdentity(identity), pageURL)
	if cached, ok := c.fromCache(ctx, cacheKey); ok {
		return cached, nil
	}

	start := time.Now()
	insights, err := c.fetch(ctx, pageURL, identity, tok)
	if err != nil {
		metrics.ObserveSourceFetch("searchconsole", "error", time.Since(start))
		return audit.Insights{}, err
	}
	metrics.ObserveSourceFetch("searchconsole", "ok", time.Since(start))
	if insights.Available {
		c.toCache(ctx, cacheKey, insights)
	}
	return insights, nil
}

func (c *Client) baseContext(ctx context.Context) context.Context {
	if c.base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.base)
}

func (c *Client) fetch(ctx context.Context, pageURL, identity string, tok *oauth2.Token) (audit.Insights, error) {
	ts := c.oauth.TokenSource(c.baseContext(ctx), tok)
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(c.baseContext(ctx), ts))}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	svc, err := gsc.NewService(ctx, opts...)
	if err != nil {
		return audit.Insights{}, fmt.Errorf("create search console service: %w", err)
	}
	defer c.persistRefreshed(ctx, identity, tok, ts)

	sites, err := svc.Sites.List().Context(ctx).Do()
	if err != nil {
		return audit.Insights{}, classify(err)
	}
	property, ok := resolveProperty(pageURL, sites.SiteEntry)
	if !ok {
		return audit.UnavailableInsights(
			fmt.Sprintf("No verified Search Console property covers %s", pageURL)), nil
	}

	end := c.clock.Now().UTC().AddDate(0, 0, -1)
	begin := end.AddDate(0, 0, -(lookbackDays - 1))
	req := &gsc.SearchAnalyticsQueryRequest{
		StartDate:  begin.Format(time.DateOnly),
		EndDate:    end.Format(time.DateOnly),
		Dimensions: []string{"query"},
		RowLimit:   rowLimit,
		DimensionFilterGroups: []*gsc.ApiDimensionFilterGroup{{
			Filters: []*gsc.ApiDimensionFilter{{
				Dimension:  "page",
				Operator:   "equals",
				Expression: pageURL,
			}},
		}},
	}
	resp, err := svc.Searchanalytics.Query(property, req).Context(ctx).Do()
	if err != nil {
		return audit.Insights{}, classify(err)
	}
	if len(resp.Rows) == 0 {
		req.DimensionFilterGroups = nil
		resp, err = svc.Searchanalytics.Query(property, req).Context(ctx).Do()
		if err != nil {
			return audit.Insights{}, classify(err)
		}
	}
	return summarize(property, resp.Rows), nil
}

func (c *Client) persistRefreshed(ctx context.Context, identity string, original *oauth2.Token, ts oauth2.TokenSource) {
	current, err := ts.Token()
	if err != nil || current.AccessToken == original.AccessToken {
		return
	}
	if err := c.tokens.SaveToken(ctx, identity, current); err != nil {
		c.logger.Warn("persist refreshed search console token", zap.Error(err))
	}
}

func summarize(property string, rows []*gsc.ApiDataRow) audit.Insights {
	out := audit.Insights{Available: true, SiteProperty: property, TopQueries: []audit.QueryRow{}}
	for _, row := range rows {
		if row == nil {
			continue
		}
		query := ""
		if len(row.Keys) > 0 {
			query = row.Keys[0]
		}
		out.TopQueries = append(out.TopQueries, audit.QueryRow{
			Query:       query,
			Clicks:      row.Clicks,
			Impressions: row.Impressions,
			CTR:         row.Ctr,
			Position:    row.Position,
		})
		out.Clicks += row.Clicks
		out.Impressions += row.Impressions
	}
	if out.Impressions > 0 {
		out.CTR = out.Clicks / out.Impressions
	}
	return out
}

// resolveProperty picks the domain property first, then the https and
// http URL-prefix properties. Unverified entries never match.
func resolveProperty(pageURL string, sites []*gsc.WmxSite) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	root := strings.TrimPrefix(host, "www.")
	candidates := []string{
		"sc-domain:" + root,
		"https://" + host + "/",
		"http://" + host + "/",
	}
	owned := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		if s == nil || s.PermissionLevel == "siteUnverifiedUser" {
			continue
		}
		owned[strings.ToLower(s.SiteUrl)] = struct{}{}
	}
	for _, cand := range candidates {
		if _, ok := owned[cand]; ok {
			return cand, true
		}
	}
	return "", false
}

// classify tags upstream errors for the retry and degradation logic.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return failure.Credentials(err)
		}
		if retrieveErr.Response != nil {
			return failure.HTTPStatus(retrieveErr.Response.StatusCode, "oauth2 token")
		}
		return failure.Network("oauth2 token", err)
	}
	// A 401 from the API itself is not proof the grant is gone; only the
	// token endpoint's invalid_grant revokes stored credentials.
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return failure.HTTPStatus(apiErr.Code, "searchconsole")
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return failure.Network("searchconsole", err)
	}
	return err
}

func (c *Client) fromCache(ctx context.Context, key string) (audit.Insights, bool) {
	if c.cache == nil {
		return audit.Insights{}, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return audit.Insights{}, false
	}
	var out audit.Insights
	if err := json.Unmarshal(raw, &out); err != nil {
		return audit.Insights{}, false
	}
	return out, true
}

func (c *Client) toCache(ctx context.Context, key string, in audit.Insights) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("search console cache set failed", zap.Error(err))
	}
}
