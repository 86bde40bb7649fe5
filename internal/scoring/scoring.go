// Package scoring computes the deterministic SEO audit of a parsed page.
//
// CalculateAudit performs no I/O and reads no clock: identical inputs give
// byte-identical results once marshaled.
package scoring

import (
	"math"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/parser"
)

// Options carries the optional inputs of an audit.
type Options struct {
	TargetKeyword string
	// Performance and Insights are passed through; nil means unavailable.
	Performance *audit.Performance
	Insights    *audit.Insights
}

// Weights of each category in the overall score. They sum to 1.
var Weights = struct {
	TitleMeta, Headings, Answerability, Structure, Schema, Images, InternalLinks, Technical float64
}{
	TitleMeta:     0.20,
	Headings:      0.15,
	Answerability: 0.15,
	Structure:     0.10,
	Schema:        0.10,
	Images:        0.10,
	InternalLinks: 0.10,
	Technical:     0.10,
}

// Default unavailability reasons used when a source gives none.
const (
	DefaultPerformanceReason = "Performance data unavailable"
	DefaultInsightsReason    = "Search Console data unavailable"
)

// CalculateAudit scores doc and derives issues and quick wins. FetchedAt is
// left zero for the caller to stamp.
func CalculateAudit(pageURL string, doc parser.Document, opts Options) audit.AuditResult {
	titleMeta := scoreTitleMeta(doc, opts.TargetKeyword)
	headings := scoreHeadings(doc)
	answerability := scoreAnswerability(doc, opts.TargetKeyword)
	structure := scoreStructure(doc)
	schema := scoreSchema(doc)
	images := scoreImages(doc)
	internalLinks := scoreInternalLinks(doc)
	technical := scoreTechnical(doc)

	scores := audit.Scores{
		TitleMeta:     titleMeta.clamped(),
		Headings:      headings.clamped(),
		Answerability: answerability.clamped(),
		Structure:     structure.clamped(),
		Schema:        schema.clamped(),
		Images:        images.clamped(),
		InternalLinks: internalLinks.clamped(),
		Technical:     technical.clamped(),
	}
	scores.Overall = overall(scores)

	issues := make([]audit.Issue, 0, 16)
	for _, c := range []category{titleMeta, headings, answerability, structure, schema, images, internalLinks, technical} {
		issues = append(issues, c.issues...)
	}

	performance := NormalizePerformance(opts.Performance)
	issues = append(issues, performanceIssues(performance)...)

	return audit.AuditResult{
		Version:     audit.ResultVersion,
		URL:         pageURL,
		Scores:      scores,
		Stats:       buildStats(doc),
		Detected:    buildDetected(doc),
		Issues:      issues,
		QuickWins:   selectQuickWins(issues),
		Performance: performance,
		GSCInsights: NormalizeInsights(opts.Insights),
	}
}

func overall(s audit.Scores) int {
	w := Weights
	total := w.TitleMeta*float64(s.TitleMeta) +
		w.Headings*float64(s.Headings) +
		w.Answerability*float64(s.Answerability) +
		w.Structure*float64(s.Structure) +
		w.Schema*float64(s.Schema) +
		w.Images*float64(s.Images) +
		w.InternalLinks*float64(s.InternalLinks) +
		w.Technical*float64(s.Technical)
	return clamp(roundInt(total))
}

func buildStats(doc parser.Document) audit.Stats {
	return audit.Stats{
		WordCount:          doc.WordCount,
		ReadingTimeMin:     doc.ReadingTimeMin,
		ImagesCount:        len(doc.Images),
		H1Count:            doc.H1Count,
		H2Count:            doc.H2Count,
		H3Count:            doc.H3Count,
		TablesCount:        doc.TablesCount,
		ListsCount:         doc.ListsCount,
		InternalLinksCount: len(doc.InternalLinks),
		ExternalLinksCount: len(doc.ExternalLinks),
	}
}

func buildDetected(doc parser.Document) audit.Detected {
	return audit.Detected{
		Title:           optional(doc.Title),
		MetaDescription: optional(doc.MetaDescription),
		Canonical:       optional(doc.Canonical),
		CanonicalSelf:   doc.CanonicalSelf,
		Robots:          optional(doc.Robots),
		Viewport:        optional(doc.Viewport),
		Noindex:         doc.Noindex,
		Nofollow:        doc.Nofollow,
		Headings:        nonNil(doc.Headings),
		JSONLDTypes:     nonNil(doc.JSONLDTypes),
		Images:          nonNil(doc.Images),
		InternalLinks:   nonNil(doc.InternalLinks),
		MixedContent:    nonNil(doc.MixedContent),
	}
}

// NormalizePerformance gives a missing key and a failed fetch the same
// unavailable shape.
func NormalizePerformance(p *audit.Performance) audit.Performance {
	if p == nil {
		return audit.UnavailablePerformance(DefaultPerformanceReason)
	}
	out := *p
	out.Notes = append([]string{}, p.Notes...)
	if !out.Available {
		out.LCP, out.CLS, out.INP = nil, nil, nil
		if len(out.Notes) == 0 {
			out.Notes = []string{DefaultPerformanceReason}
		}
	}
	return out
}

// NormalizeInsights gives every unavailable Search Console block the same
// shape with a non-empty message.
func NormalizeInsights(in *audit.Insights) audit.Insights {
	if in == nil {
		return audit.UnavailableInsights(DefaultInsightsReason)
	}
	if !in.Available {
		msg := in.Message
		if msg == "" {
			msg = DefaultInsightsReason
		}
		return audit.UnavailableInsights(msg)
	}
	out := *in
	out.TopQueries = append([]audit.QueryRow{}, in.TopQueries...)
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func clamp(n int) int {
	return max(0, min(100, n))
}

func roundInt(f float64) int {
	return int(math.Round(f))
}
