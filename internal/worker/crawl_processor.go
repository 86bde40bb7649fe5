package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/crawler"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
)

// SiteCrawler is the crawl engine used by CrawlProcessor.
type SiteCrawler interface {
	Crawl(ctx context.Context, startURL string, opts crawler.Options) (audit.CrawlResult, error)
}

// CrawlProcessor runs bounded site crawls.
type CrawlProcessor struct {
	life     *lifecycle
	crawler  SiteCrawler
	defaults crawler.Options
	logger   *zap.Logger
}

// NewCrawlProcessor wires a CrawlProcessor. defaults supplies every knob a
// job leaves unset.
func NewCrawlProcessor(deps Deps, c SiteCrawler, defaults crawler.Options) *CrawlProcessor {
	life := newLifecycle(deps)
	return &CrawlProcessor{life: life, crawler: c, defaults: defaults, logger: life.Logger}
}

// Process handles one crawl delivery.
func (p *CrawlProcessor) Process(ctx context.Context, job audit.CrawlJob) error {
	started := time.Now()
	ref := runRef{ID: job.CrawlID, Kind: audit.KindCrawl, URL: job.StartURL}
	if strings.TrimSpace(job.CrawlID) == "" || strings.TrimSpace(job.StartURL) == "" {
		p.logger.Error("dropping malformed crawl job", ref.fields()...)
		metrics.ObserveJob(string(audit.KindCrawl), "malformed", time.Since(started))
		return nil
	}

	proceed, err := p.life.begin(ctx, ref, job.Input())
	if err != nil || !proceed {
		return err
	}

	opts := p.options(job)
	p.logger.Info("crawl starting", append(ref.fields(),
		zap.Int("limit", opts.Limit),
		zap.Int("max_depth", opts.MaxDepth),
		zap.Bool("same_host_only", opts.SameHostOnly))...)

	result, err := p.crawler.Crawl(ctx, job.StartURL, opts)
	if err != nil {
		return p.life.fail(ctx, ref, err, started)
	}
	return p.life.complete(ctx, ref, result, started)
}

func (p *CrawlProcessor) options(job audit.CrawlJob) crawler.Options {
	opts := p.defaults
	if job.Limit != nil && *job.Limit > 0 {
		opts.Limit = *job.Limit
	}
	if job.SameHostOnly != nil {
		opts.SameHostOnly = *job.SameHostOnly
	}
	if job.MaxDepth != nil && *job.MaxDepth >= 0 {
		opts.MaxDepth = *job.MaxDepth
	}
	if job.Timeout != nil && *job.Timeout > 0 {
		opts.PageTimeout = time.Duration(*job.Timeout) * time.Millisecond
	}
	return opts
}

// Handle implements Handler for crawl messages.
func (p *CrawlProcessor) Handle(ctx context.Context, msg audit.Message) error {
	if msg.Crawl == nil {
		p.logger.Error("crawl message without payload", zap.String("kind", string(msg.Kind)))
		return nil
	}
	return p.Process(ctx, *msg.Crawl)
}

// GiveUp marks the crawl failed after its retry budget is spent.
func (p *CrawlProcessor) GiveUp(ctx context.Context, msg audit.Message, cause error) error {
	if msg.Crawl == nil {
		return nil
	}
	ref := runRef{ID: msg.Crawl.CrawlID, Kind: audit.KindCrawl, URL: msg.Crawl.StartURL}
	return p.life.markFailed(ctx, ref, exhaustedReason(cause))
}
