package crawler

import (
	"sort"
	"strings"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

// aggregate fills the issue counts, duplicate groups, broken links and
// summary from result.Pages.
func aggregate(result *audit.CrawlResult, normalize bool) {
	var issues audit.CrawlIssueCounts
	var summary audit.CrawlSummary
	var totalLoad int64
	titles := map[string][]string{}
	canonicals := map[string][]string{}
	broken := []audit.BrokenLink{}

	for _, p := range result.Pages {
		summary.TotalPages++
		totalLoad += p.LoadTimeMs
		if !p.OK() {
			summary.FailedPages++
			issues.FailedPages++
			if p.Depth > 0 {
				broken = append(broken, audit.BrokenLink{URL: p.URL, Status: p.Status, FoundOn: p.FoundOn, Error: p.Error})
			}
			continue
		}
		summary.SuccessfulPages++
		if strings.TrimSpace(p.Title) == "" {
			issues.MissingTitles++
		} else {
			key := titleKey(p.Title, normalize)
			titles[key] = append(titles[key], p.URL)
		}
		if p.H1Count == 0 {
			issues.MissingH1++
		}
		if p.H1Count > 1 {
			issues.MultipleH1++
		}
		if strings.TrimSpace(p.MetaDescription) == "" {
			issues.MissingMetaDescriptions++
		}
		issues.ImagesWithoutAlt += p.ImagesMissingAlt
		if strings.TrimSpace(p.Canonical) == "" {
			issues.PagesWithoutCanonical++
		} else {
			key := canonicalKey(p.Canonical, normalize)
			canonicals[key] = append(canonicals[key], p.URL)
		}
		if p.Noindex {
			issues.NoindexPages++
		}
	}

	result.DuplicateTitles = duplicateGroups(titles)
	result.DuplicateCanonicals = duplicateGroups(canonicals)
	result.BrokenLinks = broken
	issues.DuplicateTitles = len(result.DuplicateTitles)
	issues.DuplicateCanonicals = len(result.DuplicateCanonicals)
	issues.BrokenLinks = len(broken)
	if summary.TotalPages > 0 {
		summary.AvgLoadTimeMs = totalLoad / int64(summary.TotalPages)
	}
	result.Issues = issues
	result.Summary = summary
}

func titleKey(title string, normalize bool) string {
	title = strings.TrimSpace(title)
	if !normalize {
		return title
	}
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

func canonicalKey(canonical string, normalize bool) string {
	canonical = strings.TrimSpace(canonical)
	if !normalize {
		return canonical
	}
	return urlutil.Loose(canonical)
}

// duplicateGroups keeps values shared by two or more pages, sorted by value.
func duplicateGroups(byValue map[string][]string) []audit.DuplicateGroup {
	groups := []audit.DuplicateGroup{}
	for value, urls := range byValue {
		if len(urls) < 2 {
			continue
		}
		groups = append(groups, audit.DuplicateGroup{Value: value, URLs: append([]string(nil), urls...)})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Value < groups[j].Value })
	return groups
}
