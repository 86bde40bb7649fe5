package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// Promoting fetches with a plain HTTP fetcher and re-renders in the browser
// when the detector flags the response as a client-rendered shell.
type Promoting struct {
	plain    audit.Fetcher
	browser  audit.Fetcher
	detector audit.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoting combines the fetchers. A nil browser or detector disables
// promotion.
func NewPromoting(plain, browser audit.Fetcher, detector audit.HeadlessDetector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{plain: plain, browser: browser, detector: detector, logger: logger}
}

// Fetch returns the rendered page when promotion succeeds and the plain
// response otherwise.
func (p *Promoting) Fetch(ctx context.Context, request audit.FetchRequest) (audit.FetchResponse, error) {
	if request.UseHeadless && p.browser != nil {
		return p.browser.Fetch(ctx, request)
	}
	resp, err := p.plain.Fetch(ctx, request)
	if err != nil || p.browser == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, err
	}
	rendered, renderErr := p.browser.Fetch(ctx, request)
	if renderErr != nil {
		p.logger.Warn("headless render failed, using plain response",
			zap.String("url", request.URL),
			zap.Error(renderErr),
		)
		return resp, nil
	}
	return rendered, nil
}
