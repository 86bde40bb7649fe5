package pagespeed

import (
	"fmt"
	"math"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

type response struct {
	LoadingExperience *loadingExperience `json:"loadingExperience"`
	LighthouseResult  *lighthouseResult  `json:"lighthouseResult"`
}

type loadingExperience struct {
	Metrics map[string]fieldMetric `json:"metrics"`
}

type fieldMetric struct {
	Percentile float64 `json:"percentile"`
	Category   string  `json:"category"`
}

type lighthouseResult struct {
	Audits     map[string]labAudit `json:"audits"`
	Categories struct {
		Performance *struct {
			Score *float64 `json:"score"`
		} `json:"performance"`
	} `json:"categories"`
}

type labAudit struct {
	NumericValue float64 `json:"numericValue"`
}

// field returns a positive field percentile scaled by divisor.
func (r response) field(name string, divisor float64) *float64 {
	if r.LoadingExperience == nil {
		return nil
	}
	m, ok := r.LoadingExperience.Metrics[name]
	if !ok || m.Percentile <= 0 {
		return nil
	}
	v := m.Percentile / divisor
	return &v
}

// lab returns a positive Lighthouse numeric value scaled by divisor.
func (r response) lab(name string, divisor float64) *float64 {
	if r.LighthouseResult == nil {
		return nil
	}
	a, ok := r.LighthouseResult.Audits[name]
	if !ok || a.NumericValue <= 0 {
		return nil
	}
	v := a.NumericValue / divisor
	return &v
}

func (r response) score() *int {
	if r.LighthouseResult == nil || r.LighthouseResult.Categories.Performance == nil ||
		r.LighthouseResult.Categories.Performance.Score == nil {
		return nil
	}
	s := int(math.Round(*r.LighthouseResult.Categories.Performance.Score * 100))
	return &s
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func (r response) toPerformance() audit.Performance {
	fieldLCP := r.field("LARGEST_CONTENTFUL_PAINT_MS", 1000)
	fieldCLS := r.field("CUMULATIVE_LAYOUT_SHIFT_SCORE", 100)
	fieldINP := r.field("INTERACTION_TO_NEXT_PAINT_MS", 1)

	perf := audit.Performance{
		LCP:              firstNonNil(fieldLCP, r.lab("largest-contentful-paint", 1000)),
		CLS:              firstNonNil(fieldCLS, r.lab("cumulative-layout-shift", 1)),
		INP:              firstNonNil(fieldINP, r.lab("interaction-to-next-paint", 1)),
		FCP:              r.lab("first-contentful-paint", 1000),
		TBT:              r.lab("total-blocking-time", 1),
		SpeedIndex:       r.lab("speed-index", 1000),
		PerformanceScore: r.score(),
	}
	perf.Available = perf.LCP != nil || perf.CLS != nil || perf.INP != nil
	switch {
	case fieldLCP != nil || fieldCLS != nil || fieldINP != nil:
		perf.Source = "field"
	case perf.Available:
		perf.Source = "lab"
	}
	perf.Notes = notes(perf)
	perf.Opportunities = opportunities(perf)
	return perf
}

func notes(p audit.Performance) []string {
	out := []string{}
	if p.PerformanceScore != nil {
		s := *p.PerformanceScore
		switch {
		case s >= 90:
			out = append(out, fmt.Sprintf("Excellent performance score: %d/100", s))
		case s >= 70:
			out = append(out, fmt.Sprintf("Good performance score: %d/100", s))
		case s >= 50:
			out = append(out, fmt.Sprintf("Fair performance score: %d/100 - consider optimization", s))
		default:
			out = append(out, fmt.Sprintf("Poor performance score: %d/100 - significant optimization needed", s))
		}
	}
	if p.LCP != nil {
		out = append(out, vitalNote("LCP", fmt.Sprintf("%.2fs", *p.LCP), "≤2.5s",
			*p.LCP, audit.LCPGoodSeconds, audit.LCPNeedsImprovementSeconds, "optimize loading performance"))
	}
	if p.CLS != nil {
		out = append(out, vitalNote("CLS", fmt.Sprintf("%.3f", *p.CLS), "≤0.1",
			*p.CLS, audit.CLSGood, audit.CLSNeedsImprovement, "fix layout shifts"))
	}
	if p.INP != nil {
		out = append(out, vitalNote("INP", fmt.Sprintf("%.0fms", *p.INP), "≤200ms",
			*p.INP, audit.INPGoodMs, audit.INPNeedsImprovementMs, "optimize interactivity"))
	}
	if !p.Available {
		out = append(out, "No Core Web Vitals were reported for this URL")
	}
	return out
}

func vitalNote(name, value, target string, v, good, needsImprovement float64, advice string) string {
	switch {
	case v <= good:
		return fmt.Sprintf("%s is excellent: %s (target: %s)", name, value, target)
	case v <= needsImprovement:
		return fmt.Sprintf("%s needs improvement: %s (target: %s)", name, value, target)
	default:
		return fmt.Sprintf("%s is poor: %s (target: %s) - %s", name, value, target, advice)
	}
}

func opportunities(p audit.Performance) []string {
	var out []string
	if p.LCP != nil && *p.LCP > 2.5 {
		out = append(out, fmt.Sprintf("Optimize Largest Contentful Paint: currently %.2fs, target ≤2.5s", *p.LCP))
	}
	if p.CLS != nil && *p.CLS > 0.1 {
		out = append(out, fmt.Sprintf("Reduce Cumulative Layout Shift: currently %.3f, target ≤0.1", *p.CLS))
	}
	if p.INP != nil && *p.INP > 200 {
		out = append(out, fmt.Sprintf("Improve Interaction to Next Paint: currently %.0fms, target ≤200ms", *p.INP))
	}
	if p.FCP != nil && *p.FCP > 1.8 {
		out = append(out, fmt.Sprintf("Optimize First Contentful Paint: currently %.2fs, target ≤1.8s", *p.FCP))
	}
	if p.TBT != nil && *p.TBT > 200 {
		out = append(out, fmt.Sprintf("Reduce Total Blocking Time: currently %.0fms, target ≤200ms", *p.TBT))
	}
	if p.SpeedIndex != nil && *p.SpeedIndex > 3.4 {
		out = append(out, fmt.Sprintf("Improve Speed Index: currently %.2fs, target ≤3.4s", *p.SpeedIndex))
	}
	return out
}
