// Package parser turns raw HTML into the structured document model consumed
// by the scoring engine and the site crawler.
package parser

import (
	"encoding/json"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

// WordsPerMinute is the reading speed used for reading time estimates.
const WordsPerMinute = 200

// Document is the structured view of one HTML page. Absent string fields
// are empty; absent lists are empty, never nil.
type Document struct {
	URL             string
	Lang            string
	Title           string
	MetaDescription string
	Canonical       string
	Robots          string
	Viewport        string

	Headings []audit.Heading
	H1Count  int
	H2Count  int
	H3Count  int

	Images        []audit.Image
	InternalLinks []audit.Link
	ExternalLinks []audit.Link
	JSONLDTypes   []string

	TablesCount    int
	ListsCount     int
	Paragraphs     []string
	WordCount      int
	ReadingTimeMin int

	CanonicalSelf bool
	Noindex       bool
	Nofollow      bool
	MixedContent  []audit.MixedContent

	HasMainLandmark   bool
	UnlabeledControls int
}

// FirstH1 returns the text of the first H1, or "".
func (d Document) FirstH1() string {
	for _, h := range d.Headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return ""
}

// Parse extracts SEO signals from rawHTML. It never fails: malformed markup
// yields whatever could be recovered.
func Parse(rawHTML, baseURL string) Document {
	doc := Document{
		URL:           baseURL,
		Headings:      []audit.Heading{},
		Images:        []audit.Image{},
		InternalLinks: []audit.Link{},
		ExternalLinks: []audit.Link{},
		JSONLDTypes:   []string{},
		Paragraphs:    []string{},
		MixedContent:  []audit.MixedContent{},
	}

	base, _ := url.Parse(strings.TrimSpace(baseURL))
	root, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return doc
	}

	head := extractHead(root, base)
	doc.Lang = head.lang
	doc.Title = head.title
	doc.MetaDescription = head.description
	doc.Canonical = head.canonical
	doc.Robots = head.robots
	doc.Viewport = head.viewport
	doc.Noindex = head.noindex
	doc.Nofollow = head.nofollow
	doc.CanonicalSelf = head.canonical != "" && urlutil.Equivalent(head.canonical, baseURL)

	root.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		doc.Headings = append(doc.Headings, audit.Heading{Level: level, Text: cleanText(s.Text())})
		switch level {
		case 1:
			doc.H1Count++
		case 2:
			doc.H2Count++
		case 3:
			doc.H3Count++
		}
	})

	doc.Images = collectImages(root, base)

	for _, l := range collectLinks(root, base) {
		link := audit.Link{Href: l.href, Anchor: l.anchor}
		if l.relative || (base != nil && urlutil.SameHost(l.parsed, base)) {
			doc.InternalLinks = append(doc.InternalLinks, link)
		} else {
			doc.ExternalLinks = append(doc.ExternalLinks, link)
		}
	}

	doc.JSONLDTypes = collectJSONLDTypes(root)
	doc.TablesCount = root.Find("table").Length()
	doc.ListsCount = root.Find("ul, ol").Length()
	doc.HasMainLandmark = root.Find("main, [role='main']").Length() > 0
	doc.UnlabeledControls = countUnlabeledControls(root)

	if base != nil && strings.EqualFold(base.Scheme, "https") {
		doc.MixedContent = collectMixedContent(root)
	}

	root.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(visibleText(s.Nodes)); text != "" {
			doc.Paragraphs = append(doc.Paragraphs, text)
		}
	})

	doc.WordCount = countWords(visibleText(root.Find("body").Nodes))
	doc.ReadingTimeMin = ReadingTime(doc.WordCount)
	return doc
}

// ReadingTime estimates minutes of reading, rounded up.
func ReadingTime(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / WordsPerMinute))
}

type headInfo struct {
	lang        string
	title       string
	description string
	canonical   string
	robots      string
	viewport    string
	noindex     bool
	nofollow    bool
}

func extractHead(root *goquery.Document, base *url.URL) headInfo {
	var info headInfo
	info.lang = strings.TrimSpace(root.Find("html").AttrOr("lang", ""))
	info.title = cleanText(root.Find("title").First().Text())

	root.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		switch name {
		case "description":
			if info.description == "" {
				info.description = cleanText(content)
			}
		case "robots":
			if info.robots == "" {
				info.robots = content
			}
			applyDirectives(&info, content)
		case "googlebot":
			applyDirectives(&info, content)
		case "viewport":
			if info.viewport == "" {
				info.viewport = content
			}
		}
	})

	root.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !hasRel(s, "canonical") {
			return true
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return true
		}
		info.canonical = urlutil.Resolve(base, href)
		return false
	})
	return info
}

func applyDirectives(info *headInfo, content string) {
	for _, directive := range strings.Split(strings.ToLower(content), ",") {
		switch strings.TrimSpace(directive) {
		case "noindex":
			info.noindex = true
		case "nofollow":
			info.nofollow = true
		case "none":
			info.noindex = true
			info.nofollow = true
		}
	}
}

func hasRel(s *goquery.Selection, want string) bool {
	for _, rel := range strings.Fields(s.AttrOr("rel", "")) {
		if strings.EqualFold(rel, want) {
			return true
		}
	}
	return false
}

func collectImages(root *goquery.Document, base *url.URL) []audit.Image {
	images := []audit.Image{}
	root.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		// An <img> without a source still counts, with an empty Src.
		images = append(images, audit.Image{
			Src: urlutil.Resolve(base, src),
			Alt: cleanText(s.AttrOr("alt", "")),
		})
	})
	return images
}

type rawLink struct {
	href   string
	anchor string
	parsed *url.URL
	// relative is set for hrefs kept literally because the page URL could
	// not be used as a base.
	relative bool
}

func collectLinks(root *goquery.Document, base *url.URL) []rawLink {
	var links []rawLink
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !urlutil.IsNavigable(href) {
			return
		}
		resolved := urlutil.Resolve(base, href)
		parsed, err := url.Parse(resolved)
		if err != nil {
			return
		}
		if parsed.Host == "" {
			if parsed.Scheme == "" && (base == nil || base.Host == "") {
				links = append(links, rawLink{href: href, anchor: anchorText(s), parsed: parsed, relative: true})
			}
			return
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return
		}
		links = append(links, rawLink{href: resolved, anchor: anchorText(s), parsed: parsed})
	})
	return links
}

func anchorText(s *goquery.Selection) string {
	if text := cleanText(s.Text()); text != "" {
		return text
	}
	if label := cleanText(s.AttrOr("aria-label", "")); label != "" {
		return label
	}
	return cleanText(s.Find("img[alt]").First().AttrOr("alt", ""))
}

func collectJSONLDTypes(root *goquery.Document) []string {
	types := []string{}
	seen := make(map[string]struct{})
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}

	root.Find("script").Each(func(_ int, s *goquery.Selection) {
		if !strings.Contains(strings.ToLower(s.AttrOr("type", "")), "ld+json") {
			return
		}
		var payload any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			return
		}
		walkJSONLD(payload, add)
	})
	return types
}

func walkJSONLD(node any, add func(string)) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			walkJSONLD(item, add)
		}
	case map[string]any:
		switch t := v["@type"].(type) {
		case string:
			add(t)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
		if graph, ok := v["@graph"]; ok {
			walkJSONLD(graph, add)
		}
	}
}

var mixedContentSelectors = []struct {
	selector string
	attr     string
}{
	{"img", "src"},
	{"script", "src"},
	{"iframe", "src"},
	{"source", "src"},
	{"audio", "src"},
	{"video", "src"},
	{"embed", "src"},
	{"link", "href"},
}

var mixedContentLinkRels = []string{"stylesheet", "icon", "preload", "modulepreload", "apple-touch-icon"}

func collectMixedContent(root *goquery.Document) []audit.MixedContent {
	found := []audit.MixedContent{}
	for _, target := range mixedContentSelectors {
		root.Find(target.selector).Each(func(_ int, s *goquery.Selection) {
			ref := strings.TrimSpace(s.AttrOr(target.attr, ""))
			if !strings.HasPrefix(strings.ToLower(ref), "http://") {
				return
			}
			if target.selector == "link" && !hasAnyRel(s, mixedContentLinkRels) {
				return
			}
			found = append(found, audit.MixedContent{Tag: target.selector, URL: ref})
		})
	}
	return found
}

func hasAnyRel(s *goquery.Selection, rels []string) bool {
	for _, rel := range rels {
		if hasRel(s, rel) {
			return true
		}
	}
	return false
}

var skipLabelTypes = map[string]struct{}{
	"hidden": {}, "submit": {}, "button": {}, "image": {}, "reset": {},
}

func countUnlabeledControls(root *goquery.Document) int {
	labelled := make(map[string]struct{})
	root.Find("label[for]").Each(func(_ int, s *goquery.Selection) {
		labelled[s.AttrOr("for", "")] = struct{}{}
	})

	count := 0
	root.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "input" {
			if _, skip := skipLabelTypes[strings.ToLower(s.AttrOr("type", "text"))]; skip {
				return
			}
		}
		if id := s.AttrOr("id", ""); id != "" {
			if _, ok := labelled[id]; ok {
				return
			}
		}
		if s.AttrOr("aria-label", "") != "" || s.AttrOr("aria-labelledby", "") != "" {
			return
		}
		if s.Closest("label").Length() > 0 {
			return
		}
		count++
	})
	return count
}

var invisibleElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {}, "head": {},
}

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "ul": {}, "ol": {}, "td": {}, "th": {}, "tr": {},
	"table": {}, "section": {}, "article": {}, "header": {}, "footer": {}, "nav": {}, "main": {},
	"aside": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "blockquote": {},
	"pre": {}, "figure": {}, "figcaption": {}, "dd": {}, "dt": {}, "dl": {}, "hr": {}, "form": {},
}

// visibleText concatenates rendered text under nodes, breaking words at
// block boundaries and skipping non-rendered elements.
func visibleText(nodes []*html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		block := false
		if n.Type == html.ElementNode {
			if _, skip := invisibleElements[n.Data]; skip {
				return
			}
			_, block = blockElements[n.Data]
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return b.String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
