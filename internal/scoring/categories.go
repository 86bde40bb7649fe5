package scoring

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/parser"
)

const (
	titleMinLen        = 45
	titleMaxLen        = 60
	metaMinLen         = 140
	metaMaxLen         = 160
	thinWordCount      = 200
	shortWordCount     = 800
	longParagraphChars = 800
	minParagraphs      = 3
	minInternalLinks   = 2
	maxInternalLinks   = 20
	minDescriptiveRate = 0.7
	minAltLen          = 3
	imagesNeutralScore = 60
)

// category is the outcome of one scoring dimension.
type category struct {
	score  int
	issues []audit.Issue
}

func (c *category) penalize(points int, r rule, found, snippet string) {
	c.score -= points
	c.issues = append(c.issues, r.issue(found, snippet))
}

func newCategory() category {
	return category{score: 100}
}

func (c category) clamped() int {
	return clamp(c.score)
}

func scoreTitleMeta(doc parser.Document, keyword string) category {
	c := newCategory()
	title := doc.Title
	switch {
	case title == "":
		c.penalize(50, ruleTitleMissing, "(none)", "<title>Primary keyword - Brand</title>")
	default:
		if n := utf8.RuneCountInString(title); n < titleMinLen || n > titleMaxLen {
			c.penalize(15, ruleTitleLength, fmt.Sprintf("%d characters: %s", n, title),
				fmt.Sprintf("<title>%s</title>", html.EscapeString(truncate(title, titleMaxLen))))
		}
		if keyword != "" && !containsFold(title, keyword) {
			c.penalize(10, ruleTitleKeyword, fmt.Sprintf("keyword %q not in title", keyword), "")
		}
	}

	meta := doc.MetaDescription
	switch {
	case meta == "":
		c.penalize(35, ruleMetaMissing, "(none)", `<meta name="description" content="..." />`)
	default:
		if n := utf8.RuneCountInString(meta); n < metaMinLen || n > metaMaxLen {
			c.penalize(10, ruleMetaLength, fmt.Sprintf("%d characters", n),
				fmt.Sprintf(`<meta name="description" content="%s" />`, html.EscapeString(truncate(meta, 155))))
		}
	}
	return c
}

func scoreHeadings(doc parser.Document) category {
	c := newCategory()
	if doc.H1Count == 0 {
		c.penalize(40, ruleH1Missing, "No H1", "<h1>Your primary page heading</h1>")
	}
	if doc.H1Count > 1 {
		c.penalize(15, ruleH1Multiple, fmt.Sprintf("%d H1 elements", doc.H1Count), "")
	}
	if doc.H2Count == 0 {
		c.penalize(20, ruleH2Missing, "No H2", "<h2>Section heading</h2>")
	}
	if doc.H3Count > doc.H2Count*3 {
		c.penalize(10, ruleH3Heavy, fmt.Sprintf("%d H3 vs %d H2", doc.H3Count, doc.H2Count), "")
	}
	if skip, ok := firstLevelSkip(doc.Headings); ok {
		c.penalize(10, ruleHeadingHierarchy, fmt.Sprintf("H3 %q appears before any H2", skip.Text), "")
	}
	if len(doc.Headings) == 0 {
		c.score = 0
	}
	return c
}

// firstLevelSkip returns the first H3 that is not preceded by an H2.
func firstLevelSkip(headings []audit.Heading) (audit.Heading, bool) {
	seenH2 := false
	for _, h := range headings {
		switch h.Level {
		case 2:
			seenH2 = true
		case 3:
			if !seenH2 {
				return h, true
			}
		}
	}
	return audit.Heading{}, false
}

var interrogatives = map[string]struct{}{
	"who": {}, "what": {}, "when": {}, "where": {}, "why": {}, "how": {}, "which": {},
	"can": {}, "does": {}, "do": {}, "is": {}, "are": {}, "should": {}, "will": {},
}

func isQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "?") {
		return true
	}
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	_, ok := interrogatives[strings.Trim(fields[0], ",.:;")]
	return ok
}

func scoreAnswerability(doc parser.Document, keyword string) category {
	c := newCategory()
	words := doc.WordCount
	switch {
	case words < thinWordCount:
		// Thin pages are also short; one issue carries both deductions.
		c.penalize(50, ruleContentThin, fmt.Sprintf("%d words", words), "")
	case words < shortWordCount:
		c.penalize(10, ruleContentShort, fmt.Sprintf("%d words", words), "")
	}
	if doc.ListsCount == 0 {
		c.penalize(10, ruleListsMissing, "No lists", "<ul>\n  <li>Key point</li>\n</ul>")
	}
	if doc.TablesCount == 0 {
		c.penalize(5, ruleTablesMissing, "No tables", "")
	}

	questions := 0
	for _, h := range doc.Headings {
		if h.Level > 1 && isQuestion(h.Text) {
			questions++
		}
	}
	if questions == 0 {
		c.penalize(15, ruleQuestionHeadings, "No question-style subheadings", "<h2>How do I ...?</h2>")
	}

	if keyword != "" && !keywordInHeadings(doc.Headings, keyword) {
		c.penalize(10, ruleKeywordHeadings, fmt.Sprintf("keyword %q not in H1 or H2", keyword), "")
	}
	return c
}

func keywordInHeadings(headings []audit.Heading, keyword string) bool {
	for _, h := range headings {
		if h.Level <= 2 && containsFold(h.Text, keyword) {
			return true
		}
	}
	return false
}

func scoreStructure(doc parser.Document) category {
	c := newCategory()
	long := 0
	for _, p := range doc.Paragraphs {
		if utf8.RuneCountInString(p) > longParagraphChars {
			long++
		}
	}
	if long > 0 {
		c.penalize(20, ruleParagraphsLong, fmt.Sprintf("%d paragraphs over %d characters", long, longParagraphChars), "")
	}
	if n := len(doc.Paragraphs); n < minParagraphs {
		c.penalize(20, ruleParagraphsFew, fmt.Sprintf("%d paragraphs", n), "")
	}
	if !doc.HasMainLandmark {
		c.penalize(10, ruleMainLandmark, "No <main> element", "<main>...</main>")
	}
	if doc.UnlabeledControls > 0 {
		c.penalize(10, ruleFormLabels, fmt.Sprintf("%d form controls without a label", doc.UnlabeledControls),
			`<label for="email">Email</label>`)
	}
	return c
}

var contentSchemaTypes = []string{"Article", "BlogPosting", "NewsArticle", "HowTo", "FAQPage", "Product", "WebPage"}

func scoreSchema(doc parser.Document) category {
	c := newCategory()
	if len(doc.JSONLDTypes) == 0 {
		c.penalize(40, ruleSchemaMissing, "No JSON-LD detected",
			`{"@context":"https://schema.org","@type":"Article","headline":"...","datePublished":"..."}`)
	}
	if !hasContentType(doc.JSONLDTypes) {
		found := "No content type"
		if len(doc.JSONLDTypes) > 0 {
			found = "Types: " + strings.Join(doc.JSONLDTypes, ", ")
		}
		c.penalize(20, ruleSchemaContentType, found, "")
	}
	return c
}

func hasContentType(types []string) bool {
	for _, t := range types {
		for _, want := range contentSchemaTypes {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

func scoreImages(doc parser.Document) category {
	total := len(doc.Images)
	if total == 0 {
		return category{score: imagesNeutralScore}
	}
	withAlt := 0
	var firstMissing string
	for _, img := range doc.Images {
		if hasMeaningfulAlt(img.Alt) {
			withAlt++
		} else if firstMissing == "" {
			firstMissing = img.Src
		}
	}
	c := category{score: roundInt(float64(withAlt) / float64(total) * 100)}
	if missing := total - withAlt; missing > 0 {
		r := ruleImageAlt
		if float64(withAlt)/float64(total) >= minDescriptiveRate {
			r = r.withSeverity(audit.SeverityLow)
		}
		c.issues = append(c.issues, r.issue(
			fmt.Sprintf("%d of %d images missing alt text", missing, total),
			fmt.Sprintf(`<img src="%s" alt="Descriptive alt text" />`, html.EscapeString(firstMissing)),
		))
	}
	return c
}

func hasMeaningfulAlt(alt string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(alt)) >= minAltLen
}

var genericAnchors = map[string]struct{}{
	"click here": {}, "here": {}, "read more": {}, "more": {}, "link": {}, "learn more": {}, "this": {},
}

func scoreInternalLinks(doc parser.Document) category {
	c := newCategory()
	n := len(doc.InternalLinks)
	if n < minInternalLinks {
		c.penalize(40, ruleInternalLinksLow, fmt.Sprintf("%d internal links", n),
			`<a href="/related-page">Descriptive anchor</a>`)
	}
	if n > maxInternalLinks {
		c.penalize(10, ruleInternalLinksExcessive, fmt.Sprintf("%d internal links", n), "")
	}
	descriptive := 0
	for _, l := range doc.InternalLinks {
		if isDescriptiveAnchor(l.Anchor) {
			descriptive++
		}
	}
	if n > 0 && float64(descriptive)/float64(n) < minDescriptiveRate {
		c.penalize(15, ruleAnchorText, fmt.Sprintf("%d of %d anchors are descriptive", descriptive, n), "")
	}
	return c
}

func isDescriptiveAnchor(anchor string) bool {
	anchor = strings.ToLower(strings.TrimSpace(anchor))
	if utf8.RuneCountInString(anchor) <= 2 {
		return false
	}
	_, generic := genericAnchors[anchor]
	return !generic
}

func scoreTechnical(doc parser.Document) category {
	c := newCategory()
	if doc.Noindex {
		c.penalize(50, ruleNoindex, "robots: "+doc.Robots, `<meta name="robots" content="index, follow" />`)
	}
	switch {
	case doc.Canonical == "":
		c.penalize(15, ruleCanonicalMissing, "(none)",
			fmt.Sprintf(`<link rel="canonical" href="%s" />`, html.EscapeString(doc.URL)))
	case !doc.CanonicalSelf:
		c.penalize(10, ruleCanonicalNotSelf, doc.Canonical, "")
	}
	if doc.Viewport == "" {
		c.penalize(15, ruleViewportMissing, "(none)",
			`<meta name="viewport" content="width=device-width, initial-scale=1" />`)
	}
	if len(doc.MixedContent) > 0 {
		first := doc.MixedContent[0]
		c.penalize(20, ruleMixedContent,
			fmt.Sprintf("%d insecure resources, first: <%s> %s", len(doc.MixedContent), first.Tag, first.URL), "")
	}
	if doc.Nofollow {
		c.penalize(10, ruleNofollow, "robots: "+doc.Robots, "")
	}
	if doc.Lang == "" {
		c.penalize(5, ruleLangMissing, "(none)", `<html lang="en">`)
	}
	return c
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
