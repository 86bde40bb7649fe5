package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/failure"
	"github.com/JakeFAU/seo-audit-worker/internal/metrics"
	"github.com/JakeFAU/seo-audit-worker/internal/parser"
	"github.com/JakeFAU/seo-audit-worker/internal/scoring"
)

// Degradation messages for optional sources.
const (
	PerformanceSkippedReason = "PageSpeed API key not configured"
	InsightsSkippedReason    = "Search Console not configured"
	InsightsRevokedReason    = "Search Console access was revoked; reconnect your Google account"
)

var errSkipped = errors.New("source not configured")

// PerformanceSource fetches Core Web Vitals. Fetch never fails; problems
// surface as an unavailable block.
type PerformanceSource interface {
	Enabled() bool
	Fetch(ctx context.Context, pageURL string) audit.Performance
}

// InsightsSource fetches Search Console data for an identity.
type InsightsSource interface {
	Enabled() bool
	Fetch(ctx context.Context, pageURL, identity string) (audit.Insights, error)
}

// TokenPurger removes a dead OAuth grant.
type TokenPurger interface {
	DeleteToken(ctx context.Context, identity string) error
}

// AuditConfig tunes the audit processor.
type AuditConfig struct {
	FetchTimeout    time.Duration
	DefaultIdentity string
}

// AuditProcessor runs single-page audits.
type AuditProcessor struct {
	life     *lifecycle
	fetcher  audit.Fetcher
	perf     PerformanceSource
	insights InsightsSource
	tokens   TokenPurger
	cfg      AuditConfig
	logger   *zap.Logger
}

// NewAuditProcessor wires an AuditProcessor. perf, insights and tokens may
// be nil.
func NewAuditProcessor(
	deps Deps,
	fetcher audit.Fetcher,
	perf PerformanceSource,
	insights InsightsSource,
	tokens TokenPurger,
	cfg AuditConfig,
) *AuditProcessor {
	life := newLifecycle(deps)
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &AuditProcessor{
		life:     life,
		fetcher:  fetcher,
		perf:     perf,
		insights: insights,
		tokens:   tokens,
		cfg:      cfg,
		logger:   life.Logger,
	}
}

// Process handles one delivery. A non-nil error means the delivery should
// be retried.
func (p *AuditProcessor) Process(ctx context.Context, job audit.AuditJob) error {
	started := time.Now()
	ref := runRef{ID: job.RunID, Kind: audit.KindAudit, URL: job.PageURL, Email: job.Email, Locale: job.Locale}
	if strings.TrimSpace(job.RunID) == "" || strings.TrimSpace(job.PageURL) == "" {
		p.logger.Error("dropping malformed audit job", ref.fields()...)
		metrics.ObserveJob(string(audit.KindAudit), "malformed", time.Since(started))
		return nil
	}

	proceed, err := p.life.begin(ctx, ref, job.Input())
	if err != nil || !proceed {
		return err
	}

	identity := p.identity(job)
	htmlSrc := Go(ctx, func(ctx context.Context) (audit.FetchResponse, error) {
		return p.fetchHTML(ctx, job.PageURL)
	})
	perfSrc := Go(ctx, func(ctx context.Context) (audit.Performance, error) {
		if p.perf == nil || !p.perf.Enabled() {
			return audit.Performance{}, errSkipped
		}
		return p.perf.Fetch(ctx, job.PageURL), nil
	})
	insightsSrc := Go(ctx, func(ctx context.Context) (audit.Insights, error) {
		if p.insights == nil || !p.insights.Enabled() || identity == "" {
			return audit.Insights{}, errSkipped
		}
		return p.insights.Fetch(ctx, job.PageURL, identity)
	})

	page := htmlSrc.Wait()
	perf := perfSrc.Wait()
	insights := insightsSrc.Wait()

	if page.Err != nil {
		return p.life.fail(ctx, ref, page.Err, started)
	}

	result, err := p.score(job, page.Value, p.performanceBlock(ref, perf), p.insightsBlock(ctx, ref, identity, insights))
	if err != nil {
		return p.life.fail(ctx, ref, err, started)
	}
	result.FetchedAt = p.life.Clock.Now()
	return p.life.complete(ctx, ref, result, started)
}

func (p *AuditProcessor) identity(job audit.AuditJob) string {
	switch {
	case job.AccountID != "":
		return job.AccountID
	case job.Email != "":
		return job.Email
	default:
		return p.cfg.DefaultIdentity
	}
}

func (p *AuditProcessor) fetchHTML(ctx context.Context, pageURL string) (audit.FetchResponse, error) {
	start := time.Now()
	resp, err := p.fetcher.Fetch(ctx, audit.FetchRequest{URL: pageURL, Timeout: p.cfg.FetchTimeout})
	if err != nil {
		metrics.ObserveSourceFetch("html", "error", time.Since(start))
		return audit.FetchResponse{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveSourceFetch("html", "http_error", time.Since(start))
		return audit.FetchResponse{}, failure.HTTPStatus(resp.StatusCode, pageURL)
	}
	metrics.ObserveSourceFetch("html", "ok", time.Since(start))
	return resp, nil
}

func (p *AuditProcessor) performanceBlock(ref runRef, res Result[audit.Performance]) *audit.Performance {
	switch {
	case errors.Is(res.Err, errSkipped):
		perf := audit.UnavailablePerformance(PerformanceSkippedReason)
		p.degraded(ref, "pagespeed", "skipped", nil)
		return &perf
	case res.Err != nil:
		perf := audit.UnavailablePerformance(res.Err.Error())
		p.degraded(ref, "pagespeed", "error", res.Err)
		return &perf
	case !res.Value.Available:
		p.degraded(ref, "pagespeed", "unavailable", nil)
	}
	return &res.Value
}

func (p *AuditProcessor) insightsBlock(ctx context.Context, ref runRef, identity string, res Result[audit.Insights]) *audit.Insights {
	switch {
	case errors.Is(res.Err, errSkipped):
		in := audit.UnavailableInsights(InsightsSkippedReason)
		p.degraded(ref, "searchconsole", "skipped", nil)
		return &in
	case res.Err != nil && failure.Classify(res.Err) == failure.Credential:
		if p.tokens != nil {
			if err := p.tokens.DeleteToken(ctx, identity); err != nil {
				p.logger.Warn("purge revoked token failed", append(ref.fields(), zap.Error(err))...)
			}
		}
		in := audit.UnavailableInsights(InsightsRevokedReason)
		p.degraded(ref, "searchconsole", "credential", res.Err)
		return &in
	case res.Err != nil:
		in := audit.UnavailableInsights(res.Err.Error())
		p.degraded(ref, "searchconsole", "error", res.Err)
		return &in
	case !res.Value.Available:
		p.degraded(ref, "searchconsole", "unavailable", nil)
	}
	return &res.Value
}

func (p *AuditProcessor) degraded(ref runRef, source, reason string, err error) {
	metrics.ObserveDegradation(source, reason)
	fields := append(ref.fields(), zap.String("source", source), zap.String("reason", reason))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.logger.Info("optional source degraded", fields...)
}

// score parses and scores the page. A panic is reported as a permanent
// parse failure.
func (p *AuditProcessor) score(
	job audit.AuditJob,
	page audit.FetchResponse,
	perf *audit.Performance,
	insights *audit.Insights,
) (result audit.AuditResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Parse(fmt.Errorf("score page: panic: %v", r))
		}
	}()
	base := page.URL
	if base == "" {
		base = job.PageURL
	}
	doc := parser.Parse(string(page.Body), base)
	return scoring.CalculateAudit(job.PageURL, doc, scoring.Options{
		TargetKeyword: job.TargetKeyword,
		Performance:   perf,
		Insights:      insights,
	}), nil
}

// Handle implements Handler for audit messages.
func (p *AuditProcessor) Handle(ctx context.Context, msg audit.Message) error {
	if msg.Audit == nil {
		p.logger.Error("audit message without payload", zap.String("kind", string(msg.Kind)))
		return nil
	}
	return p.Process(ctx, *msg.Audit)
}

// GiveUp marks the run failed after its retry budget is spent.
func (p *AuditProcessor) GiveUp(ctx context.Context, msg audit.Message, cause error) error {
	if msg.Audit == nil {
		return nil
	}
	job := msg.Audit
	ref := runRef{ID: job.RunID, Kind: audit.KindAudit, URL: job.PageURL, Email: job.Email, Locale: job.Locale}
	return p.life.markFailed(ctx, ref, exhaustedReason(cause))
}
