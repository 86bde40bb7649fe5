package crawler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// robotsRules answers allow/deny for one host. A nil group allows everything.
type robotsRules struct {
	group *robotstxt.Group
}

func (r robotsRules) allowed(rawURL string) bool {
	if r.group == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return r.group.Test(path)
}

// probeRobots fetches /robots.txt once. Transport failures allow all.
func (c *Crawler) probeRobots(ctx context.Context, start *url.URL, opts Options) (audit.RobotsProbe, robotsRules) {
	robotsURL := originOf(start) + "/robots.txt"
	probe := audit.RobotsProbe{URL: robotsURL, Sitemaps: []string{}}

	resp, err := c.fetchAux(ctx, robotsURL, opts)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("url", robotsURL),
			zap.Error(err),
		)
		probe.StartAllowed = true
		return probe, robotsRules{}
	}
	probe.Status = resp.StatusCode
	probe.Present = resp.StatusCode == http.StatusOK

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		c.logger.Warn("robots parse failed; allowing access", zap.String("url", robotsURL), zap.Error(err))
		probe.StartAllowed = true
		return probe, robotsRules{}
	}
	if data.Sitemaps != nil {
		probe.Sitemaps = append(probe.Sitemaps, data.Sitemaps...)
	}
	rules := robotsRules{group: data.FindGroup(c.userAgent)}
	probe.StartAllowed = rules.allowed(start.String())
	return probe, rules
}

type siteFiles struct {
	robots  audit.RobotsProbe
	rules   robotsRules
	sitemap audit.SitemapProbe
}

// fetchSiteFiles fetches robots.txt and sitemap.xml next to the start URL. Each
// fetch gets its own short deadline so a slow origin cannot use up the
// crawl budget before any page is fetched.
func (c *Crawler) fetchSiteFiles(ctx context.Context, start *url.URL, opts Options) <-chan siteFiles {
	timeout := min(opts.PageTimeout, maxSiteFileTimeout)
	done := make(chan siteFiles, 1)
	go func() {
		var p siteFiles
		robotsCtx, cancel := context.WithTimeout(ctx, timeout)
		p.robots, p.rules = c.probeRobots(robotsCtx, start, opts)
		cancel()

		sitemapCtx, cancel := context.WithTimeout(ctx, timeout)
		p.sitemap = c.probeSitemap(sitemapCtx, start, opts)
		cancel()
		done <- p
	}()
	return done
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
