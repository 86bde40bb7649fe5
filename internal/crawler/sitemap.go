package crawler

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// probeSitemap fetches /sitemap.xml once and counts its <url> and
// <sitemap> entries.
func (c *Crawler) probeSitemap(ctx context.Context, start *url.URL, opts Options) audit.SitemapProbe {
	sitemapURL := originOf(start) + "/sitemap.xml"
	probe := audit.SitemapProbe{URL: sitemapURL}

	resp, err := c.fetchAux(ctx, sitemapURL, opts)
	if err != nil {
		c.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return probe
	}
	probe.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return probe
	}
	count, err := countSitemapEntries(resp.Body)
	if err != nil {
		c.logger.Debug("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return probe
	}
	probe.Present = true
	probe.URLCount = count
	return probe
}

func countSitemapEntries(body []byte) (int, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	urls := xmlquery.Find(doc, "//*[local-name()='urlset']/*[local-name()='url']")
	indexes := xmlquery.Find(doc, "//*[local-name()='sitemapindex']/*[local-name()='sitemap']")
	return len(urls) + len(indexes), nil
}
