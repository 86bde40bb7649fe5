package scoring

import (
	"fmt"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

type vitalPair struct {
	poor             rule
	needsImprovement rule
}

var vitalRules = map[string]vitalPair{
	"lcp": {
		poor: vitalRule("lcp", true, audit.EffortHigh,
			"Largest Contentful Paint above 4s makes the page feel slow to load.",
			"Optimize the hero image, preload critical resources and reduce server response time."),
		needsImprovement: vitalRule("lcp", false, audit.EffortHigh,
			"Largest Contentful Paint between 2.5s and 4s needs improvement.",
			"Optimize the hero image, preload critical resources and reduce server response time."),
	},
	"cls": {
		poor: vitalRule("cls", true, audit.EffortMedium,
			"Cumulative Layout Shift above 0.25 makes content jump while reading.",
			"Reserve space for images, ads and embeds with explicit dimensions."),
		needsImprovement: vitalRule("cls", false, audit.EffortMedium,
			"Cumulative Layout Shift between 0.1 and 0.25 needs improvement.",
			"Reserve space for images, ads and embeds with explicit dimensions."),
	},
	"inp": {
		poor: vitalRule("inp", true, audit.EffortHigh,
			"Interaction to Next Paint above 500ms makes the page feel unresponsive.",
			"Break up long JavaScript tasks and defer non-critical scripts."),
		needsImprovement: vitalRule("inp", false, audit.EffortHigh,
			"Interaction to Next Paint between 200ms and 500ms needs improvement.",
			"Break up long JavaScript tasks and defer non-critical scripts."),
	},
}

// performanceIssues derives Core Web Vitals issues in fixed lcp, cls, inp
// order. Unavailable data yields none.
func performanceIssues(p audit.Performance) []audit.Issue {
	if !p.Available {
		return nil
	}
	var issues []audit.Issue
	check := func(metric string, value *float64, good, needs float64, format string) {
		if value == nil || *value <= good {
			return
		}
		pair := vitalRules[metric]
		r := pair.needsImprovement
		if *value > needs {
			r = pair.poor
		}
		issues = append(issues, r.issue(fmt.Sprintf(format, *value), ""))
	}
	check("lcp", p.LCP, audit.LCPGoodSeconds, audit.LCPNeedsImprovementSeconds, "LCP %.2fs")
	check("cls", p.CLS, audit.CLSGood, audit.CLSNeedsImprovement, "CLS %.3f")
	check("inp", p.INP, audit.INPGoodMs, audit.INPNeedsImprovementMs, "INP %.0fms")
	return issues
}
