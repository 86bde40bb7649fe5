package audit

import "time"

// ResultVersion is the schema version stamped on every AuditResult.
const ResultVersion = "1.0"

// Category is the closed set of issue categories.
type Category string

// Issue categories.
const (
	CategoryTitleMeta     Category = "title_meta"
	CategoryHeadings      Category = "headings"
	CategoryAnswerability Category = "answerability"
	CategoryStructure     Category = "structure"
	CategorySchema        Category = "schema"
	CategoryImages        Category = "images"
	CategoryInternalLinks Category = "internal_links"
	CategoryTechnical     Category = "technical"
	CategoryPerformance   Category = "performance"
)

// Severity is the closed set of issue severities.
type Severity string

// Issue severities, ordered low to high.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities for sorting.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Effort estimates how much work fixing an issue takes.
type Effort string

// Effort tiers.
const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// AuditResult is the persisted output of a completed audit run.
type AuditResult struct {
	Version     string      `json:"version"`
	URL         string      `json:"url"`
	FetchedAt   time.Time   `json:"fetched_at"`
	Scores      Scores      `json:"scores"`
	Stats       Stats       `json:"stats"`
	Detected    Detected    `json:"detected"`
	Issues      []Issue     `json:"issues"`
	QuickWins   []QuickWin  `json:"quick_wins"`
	Performance Performance `json:"performance"`
	GSCInsights Insights    `json:"gsc_insights"`
}

// Scores holds the overall score and one sub-score per category, all 0-100.
type Scores struct {
	Overall       int `json:"overall"`
	TitleMeta     int `json:"title_meta"`
	Headings      int `json:"headings"`
	Answerability int `json:"answerability"`
	Structure     int `json:"structure"`
	Schema        int `json:"schema"`
	Images        int `json:"images"`
	InternalLinks int `json:"internal_links"`
	Technical     int `json:"technical"`
}

// Stats are content counters derived from the page.
type Stats struct {
	WordCount          int `json:"word_count"`
	ReadingTimeMin     int `json:"reading_time_min"`
	ImagesCount        int `json:"images_count"`
	H1Count            int `json:"h1_count"`
	H2Count            int `json:"h2_count"`
	H3Count            int `json:"h3_count"`
	TablesCount        int `json:"tables_count"`
	ListsCount         int `json:"lists_count"`
	InternalLinksCount int `json:"internal_links_count"`
	ExternalLinksCount int `json:"external_links_count"`
}

// Detected holds the raw facts extracted from the page.
type Detected struct {
	Title           *string        `json:"title"`
	MetaDescription *string        `json:"meta_description"`
	Canonical       *string        `json:"canonical"`
	CanonicalSelf   bool           `json:"canonical_self"`
	Robots          *string        `json:"robots"`
	Viewport        *string        `json:"viewport"`
	Noindex         bool           `json:"noindex"`
	Nofollow        bool           `json:"nofollow"`
	Headings        []Heading      `json:"headings"`
	JSONLDTypes     []string       `json:"json_ld_types"`
	Images          []Image        `json:"images"`
	InternalLinks   []Link         `json:"internal_links"`
	MixedContent    []MixedContent `json:"mixed_content"`
}

// Heading is one H1-H3 element in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image is one img element with its resolved src.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Link is one anchor with its resolved href.
type Link struct {
	Href   string `json:"href"`
	Anchor string `json:"anchor"`
}

// MixedContent is an insecure resource reference on a secure page.
type MixedContent struct {
	Tag string `json:"tag"`
	URL string `json:"url"`
}

// Issue is a single finding.
type Issue struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	Severity       Severity `json:"severity"`
	Found          string   `json:"found"`
	WhyItMatters   string   `json:"why_it_matters"`
	Recommendation string   `json:"recommendation"`
	Snippet        string   `json:"snippet,omitempty"`
}

// QuickWin references an issue judged cheap to fix relative to its impact.
type QuickWin struct {
	IssueID         string   `json:"issue_id"`
	EstimatedImpact Severity `json:"estimated_impact"`
	Effort          Effort   `json:"effort"`
	Action          string   `json:"action"`
	Snippet         string   `json:"snippet,omitempty"`
}

// Performance carries Core Web Vitals or an explicit unavailability note.
// LCP, FCP and SpeedIndex are seconds; INP and TBT are milliseconds.
type Performance struct {
	Available        bool     `json:"available"`
	LCP              *float64 `json:"lcp"`
	CLS              *float64 `json:"cls"`
	INP              *float64 `json:"inp"`
	FCP              *float64 `json:"fcp,omitempty"`
	TBT              *float64 `json:"tbt,omitempty"`
	SpeedIndex       *float64 `json:"speed_index,omitempty"`
	PerformanceScore *int     `json:"performance_score,omitempty"`
	Source           string   `json:"source,omitempty"`
	Notes            []string `json:"notes"`
	Opportunities    []string `json:"opportunities,omitempty"`
}

// UnavailablePerformance builds the normalized unavailable block.
func UnavailablePerformance(reason string) Performance {
	return Performance{Available: false, Notes: []string{reason}}
}

// Insights carries Search Console data or an explicit unavailability message.
type Insights struct {
	Available    bool       `json:"available"`
	SiteProperty string     `json:"site_property,omitempty"`
	TopQueries   []QueryRow `json:"top_queries"`
	CTR          float64    `json:"ctr"`
	Impressions  float64    `json:"impressions"`
	Clicks       float64    `json:"clicks"`
	Message      string     `json:"message,omitempty"`
}

// QueryRow is one search query aggregate.
type QueryRow struct {
	Query       string  `json:"query"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// UnavailableInsights builds the normalized unavailable block.
func UnavailableInsights(message string) Insights {
	return Insights{Available: false, TopQueries: []QueryRow{}, Message: message}
}

// Core Web Vitals thresholds: values at or below Good are good, at or below
// NeedsImprovement need improvement, anything above is poor.
const (
	LCPGoodSeconds             = 2.5
	LCPNeedsImprovementSeconds = 4.0
	CLSGood                    = 0.1
	CLSNeedsImprovement        = 0.25
	INPGoodMs                  = 200.0
	INPNeedsImprovementMs      = 500.0
)
