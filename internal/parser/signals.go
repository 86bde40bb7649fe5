package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Signals is the reduced per-page view used by the site crawler.
type Signals struct {
	Title            string
	MetaDescription  string
	Canonical        string
	Noindex          bool
	H1Count          int
	H2Count          int
	H3Count          int
	ImagesTotal      int
	ImagesMissingAlt int
	WordCount        int
	// Links holds resolved http(s) hrefs in document order without duplicates.
	Links []string
}

// ParseSignals extracts the crawl-level signals of a page. Like Parse it
// never fails.
func ParseSignals(rawHTML, pageURL string) Signals {
	sig := Signals{Links: []string{}}
	base, _ := url.Parse(strings.TrimSpace(pageURL))
	root, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return sig
	}

	head := extractHead(root, base)
	sig.Title = head.title
	sig.MetaDescription = head.description
	sig.Canonical = head.canonical
	sig.Noindex = head.noindex
	sig.H1Count = root.Find("h1").Length()
	sig.H2Count = root.Find("h2").Length()
	sig.H3Count = root.Find("h3").Length()

	for _, img := range collectImages(root, base) {
		sig.ImagesTotal++
		if img.Alt == "" {
			sig.ImagesMissingAlt++
		}
	}

	seen := make(map[string]struct{})
	for _, l := range collectLinks(root, base) {
		if l.relative {
			continue
		}
		href := l.href
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		sig.Links = append(sig.Links, href)
	}

	sig.WordCount = countWords(visibleText(root.Find("body").Nodes))
	return sig
}
