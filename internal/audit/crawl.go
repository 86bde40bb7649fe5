package audit

// CrawlResult is the persisted output of a completed crawl run.
type CrawlResult struct {
	StartURL            string           `json:"start_url"`
	Config              CrawlConfig      `json:"config"`
	Pages               []CrawlPage      `json:"pages"`
	Issues              CrawlIssueCounts `json:"issues"`
	DuplicateTitles     []DuplicateGroup `json:"duplicate_titles"`
	DuplicateCanonicals []DuplicateGroup `json:"duplicate_canonicals"`
	BrokenLinks         []BrokenLink     `json:"broken_links"`
	Robots              RobotsProbe      `json:"robots"`
	Sitemap             SitemapProbe     `json:"sitemap"`
	Summary             CrawlSummary     `json:"summary"`
	Truncated           bool             `json:"truncated"`
	StopReason          string           `json:"stop_reason,omitempty"`
	CrawlTimeMs         int64            `json:"crawl_time_ms"`
}

// CrawlConfig is the configuration actually used for a crawl.
type CrawlConfig struct {
	Limit               int   `json:"limit"`
	SameHostOnly        bool  `json:"same_host_only"`
	MaxDepth            int   `json:"max_depth"`
	TimeoutMs           int64 `json:"timeout_ms"`
	OverallTimeoutMs    int64 `json:"overall_timeout_ms"`
	Concurrency         int   `json:"concurrency"`
	RespectRobots       bool  `json:"respect_robots"`
	NormalizeDuplicates bool  `json:"normalize_duplicates"`
}

// CrawlPage is one visited page.
type CrawlPage struct {
	URL              string `json:"url"`
	Depth            int    `json:"depth"`
	Status           int    `json:"status"`
	Title            string `json:"title"`
	H1Present        bool   `json:"h1_present"`
	H1Count          int    `json:"h1_count"`
	H2Count          int    `json:"h2_count"`
	H3Count          int    `json:"h3_count"`
	MetaDescription  string `json:"meta_description"`
	WordCount        int    `json:"word_count"`
	ImagesTotal      int    `json:"images_total"`
	ImagesMissingAlt int    `json:"images_missing_alt"`
	Noindex          bool   `json:"noindex"`
	Canonical        string `json:"canonical"`
	InternalLinks    int    `json:"internal_links"`
	ExternalLinks    int    `json:"external_links"`
	LoadTimeMs       int64  `json:"load_time_ms"`
	FoundOn          string `json:"found_on,omitempty"`
	Error            string `json:"error,omitempty"`
}

// OK reports whether the page was fetched with a success status.
func (p CrawlPage) OK() bool {
	return p.Error == "" && p.Status >= 200 && p.Status < 400
}

// CrawlIssueCounts aggregates how many pages miss each element.
type CrawlIssueCounts struct {
	MissingTitles           int `json:"missing_titles"`
	MissingH1               int `json:"missing_h1"`
	MultipleH1              int `json:"multiple_h1"`
	MissingMetaDescriptions int `json:"missing_meta_descriptions"`
	ImagesWithoutAlt        int `json:"images_without_alt"`
	PagesWithoutCanonical   int `json:"pages_without_canonical"`
	NoindexPages            int `json:"noindex_pages"`
	DuplicateTitles         int `json:"duplicate_titles"`
	DuplicateCanonicals     int `json:"duplicate_canonicals"`
	BrokenLinks             int `json:"broken_links"`
	FailedPages             int `json:"failed_pages"`
}

// DuplicateGroup lists pages sharing the same value.
type DuplicateGroup struct {
	Value string   `json:"value"`
	URLs  []string `json:"urls"`
}

// BrokenLink is an internal link whose target failed.
type BrokenLink struct {
	URL     string `json:"url"`
	Status  int    `json:"status"`
	FoundOn string `json:"found_on"`
	Error   string `json:"error,omitempty"`
}

// RobotsProbe records the robots.txt probe.
type RobotsProbe struct {
	URL          string   `json:"url"`
	Present      bool     `json:"present"`
	Status       int      `json:"status"`
	Sitemaps     []string `json:"sitemaps"`
	StartAllowed bool     `json:"start_allowed"`
}

// SitemapProbe records the sitemap.xml probe.
type SitemapProbe struct {
	URL      string `json:"url"`
	Present  bool   `json:"present"`
	Status   int    `json:"status"`
	URLCount int    `json:"url_count"`
}

// CrawlSummary holds headline totals.
type CrawlSummary struct {
	TotalPages      int   `json:"total_pages"`
	SuccessfulPages int   `json:"successful_pages"`
	FailedPages     int   `json:"failed_pages"`
	AvgLoadTimeMs   int64 `json:"avg_load_time_ms"`
}
