// Package crawl defines core types shared across subsystems.
package crawl

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. A job becomes terminal
// (completed or failed) exactly once.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Cookie is a single cookie injected into the browsing context for
// cookie-based authentication.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credentials describes form-based authentication: the crawler navigates to
// LoginURL, fills the first plausible username and password inputs, and
// submits.
type Credentials struct {
	LoginURL string `json:"loginUrl"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthSession is the authentication variant consumed once at the start of a
// crawl. Exactly one of Cookies or Credentials should be set. It is never
// persisted beyond the job's lifetime.
type AuthSession struct {
	Cookies     []Cookie     `json:"cookies,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// CrawlConfig is the immutable policy bundle for one crawl job.
// Zero values for MaxPages, MaxDepth, and SampleSize mean unlimited.
type CrawlConfig struct {
	TargetURL           string        `json:"url"`
	OutputBaseURL       string        `json:"outputBaseUrl"`
	MaxPages            int           `json:"maxRequestsPerCrawl"`
	MaxDepth            int           `json:"maxDepth"`
	SampleSize          int           `json:"sampleSize"`
	DefaultLanguageOnly bool          `json:"defaultLanguageOnly"`
	RequestDelay        time.Duration `json:"requestDelay"`
	PostLoadDelay       time.Duration `json:"delay"`
	DeviceScaleFactor   float64       `json:"deviceScaleFactor"`
	Auth                *AuthSession  `json:"auth,omitempty"`
}

// PageRecord is the captured result for one admitted page. It is immutable
// once appended to the crawl's result set; there is exactly one per
// canonical URL.
type PageRecord struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	ScreenshotURLs []string `json:"screenshots"`
}

// ProgressSnapshot is the normalized progress event stored on a job with
// overwrite semantics.
type ProgressSnapshot struct {
	Stage       string    `json:"stage"`
	CurrentPage int       `json:"currentPage"`
	TotalPages  int       `json:"totalPages"`
	CurrentURL  string    `json:"currentUrl,omitempty"`
	Percent     float64   `json:"percent"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID          string            `json:"id"`
	Config      CrawlConfig       `json:"config"`
	Status      JobStatus         `json:"status"`
	Progress    *ProgressSnapshot `json:"progress,omitempty"`
	ManifestURL string            `json:"manifest_url,omitempty"`
	ErrorText   string            `json:"error_text,omitempty"`
	Submitted   time.Time         `json:"submitted_at"`
	Started     *time.Time        `json:"started_at,omitempty"`
	Finished    *time.Time        `json:"finished_at,omitempty"`
}

// Terminal reports whether the status is one of the two terminal states.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
