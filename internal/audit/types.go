// Package audit defines core types shared across subsystems.
package audit

import (
	"net/http"
	"time"
)

// RunKind distinguishes single-page audits from site crawls.
type RunKind string

// Run kinds accepted by the queue and the API.
const (
	KindAudit RunKind = "audit"
	KindCrawl RunKind = "crawl"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

// Run status values persisted in the run store.
const (
	StatusQueued  RunStatus = "queued"
	StatusRunning RunStatus = "running"
	StatusReady   RunStatus = "ready"
	StatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// RunInput captures what the caller asked for.
type RunInput struct {
	URL           string        `json:"url"`
	TargetKeyword string        `json:"target_keyword,omitempty"`
	Email         string        `json:"email,omitempty"`
	Locale        string        `json:"locale,omitempty"`
	AccountID     string        `json:"account_id,omitempty"`
	Crawl         *CrawlOptions `json:"crawl,omitempty"`
}

// CrawlOptions are the optional knobs of a crawl request. Nil means default.
type CrawlOptions struct {
	Limit        *int  `json:"limit,omitempty"`
	SameHostOnly *bool `json:"same_host_only,omitempty"`
	MaxDepth     *int  `json:"max_depth,omitempty"`
	TimeoutMs    *int  `json:"timeout_ms,omitempty"`
}

// Run is one audit or crawl request tracked through its status lifecycle.
type Run struct {
	ID        string    `json:"id"`
	Kind      RunKind   `json:"kind"`
	Input     RunInput  `json:"input"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditJob is the queue payload for a single-page audit.
type AuditJob struct {
	RunID         string `json:"runId"`
	PageURL       string `json:"pageUrl"`
	TargetKeyword string `json:"targetKeyword,omitempty"`
	Email         string `json:"email,omitempty"`
	Locale        string `json:"locale,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
}

// Input converts the payload into the persisted run input.
func (j AuditJob) Input() RunInput {
	return RunInput{
		URL:           j.PageURL,
		TargetKeyword: j.TargetKeyword,
		Email:         j.Email,
		Locale:        j.Locale,
		AccountID:     j.AccountID,
	}
}

// CrawlJob is the queue payload for a site crawl. Timeout is the per-page
// timeout in milliseconds.
type CrawlJob struct {
	CrawlID      string `json:"crawlId"`
	StartURL     string `json:"startUrl"`
	Limit        *int   `json:"limit,omitempty"`
	SameHostOnly *bool  `json:"sameHostOnly,omitempty"`
	MaxDepth     *int   `json:"maxDepth,omitempty"`
	Timeout      *int   `json:"timeout,omitempty"`
}

// Input converts the payload into the persisted run input.
func (j CrawlJob) Input() RunInput {
	return RunInput{
		URL: j.StartURL,
		Crawl: &CrawlOptions{
			Limit:        j.Limit,
			SameHostOnly: j.SameHostOnly,
			MaxDepth:     j.MaxDepth,
			TimeoutMs:    j.Timeout,
		},
	}
}

// Message is the queue envelope. Exactly one of Audit or Crawl is set,
// matching Kind.
type Message struct {
	Kind  RunKind   `json:"kind"`
	Audit *AuditJob `json:"audit,omitempty"`
	Crawl *CrawlJob `json:"crawl,omitempty"`
}

// RunID returns the run identifier carried by the payload.
func (m Message) RunID() string {
	switch {
	case m.Audit != nil:
		return m.Audit.RunID
	case m.Crawl != nil:
		return m.Crawl.CrawlID
	default:
		return ""
	}
}

// CompletionEvent is published once a run reaches a terminal status.
type CompletionEvent struct {
	RunID        string    `json:"run_id"`
	Kind         RunKind   `json:"kind"`
	Status       RunStatus `json:"status"`
	URL          string    `json:"url"`
	Email        string    `json:"email,omitempty"`
	Locale       string    `json:"locale,omitempty"`
	Error        string    `json:"error,omitempty"`
	ResultURI    string    `json:"result_uri,omitempty"`
	ResultSHA256 string    `json:"result_sha256,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Timeout     time.Duration
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
