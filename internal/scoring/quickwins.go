package scoring

import (
	"sort"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// MaxQuickWins caps the quick win list.
const MaxQuickWins = 5

func effortRank(e audit.Effort) int {
	switch e {
	case audit.EffortLow:
		return 1
	case audit.EffortMedium:
		return 2
	default:
		return 3
	}
}

// selectQuickWins picks cheap fixes from issues: low effort, or medium
// effort with high severity. Entries only ever reference existing issues.
func selectQuickWins(issues []audit.Issue) []audit.QuickWin {
	type candidate struct {
		index  int
		issue  audit.Issue
		effort audit.Effort
	}
	var candidates []candidate
	for i, iss := range issues {
		effort := effortOf(iss.ID)
		if effort == audit.EffortLow || (effort == audit.EffortMedium && iss.Severity == audit.SeverityHigh) {
			candidates = append(candidates, candidate{index: i, issue: iss, effort: effort})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.issue.Severity.Rank() != b.issue.Severity.Rank() {
			return a.issue.Severity.Rank() > b.issue.Severity.Rank()
		}
		if effortRank(a.effort) != effortRank(b.effort) {
			return effortRank(a.effort) < effortRank(b.effort)
		}
		return a.index < b.index
	})
	if len(candidates) > MaxQuickWins {
		candidates = candidates[:MaxQuickWins]
	}

	wins := make([]audit.QuickWin, 0, len(candidates))
	for _, c := range candidates {
		wins = append(wins, audit.QuickWin{
			IssueID:         c.issue.ID,
			EstimatedImpact: c.issue.Severity,
			Effort:          c.effort,
			Action:          c.issue.Recommendation,
			Snippet:         c.issue.Snippet,
		})
	}
	return wins
}
