// Package detector decides when a fetched page needs a headless render.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// Heuristic promotes thin pages that look like client-rendered shells.
type Heuristic struct {
	// MinWords is the visible word count at or above which a page is
	// considered server rendered regardless of markers.
	MinWords int
}

// NewHeuristic creates a detector. minWords <= 0 uses 50.
func NewHeuristic(minWords int) *Heuristic {
	if minWords <= 0 {
		minWords = 50
	}
	return &Heuristic{MinWords: minWords}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-server-rendered"),
}

// ShouldPromote reports whether probe should be re-fetched headlessly.
func (h *Heuristic) ShouldPromote(probe audit.FetchResponse) bool {
	if probe.StatusCode != 200 {
		return false
	}
	if ct := probe.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	body := probe.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	words, noscriptNag := inspect(body)
	if words >= h.MinWords {
		return false
	}
	if noscriptNag || scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// inspect counts visible body words and reports whether a <noscript>
// block asks the visitor to enable JavaScript.
func inspect(body []byte) (int, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, false
	}
	nag := false
	doc.Find("noscript").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(strings.ToLower(s.Text()), "javascript") {
			nag = true
		}
	})
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Fields(doc.Find("body").Text())), nag
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
