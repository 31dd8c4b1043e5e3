package crawl

import (
	"context"
	"net/url"
	"time"
)

// JobStore persists job metadata, status transitions, and progress snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	MarkActive(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, manifestURL string) error
	MarkFailed(ctx context.Context, jobID string, errText string) error
	UpdateProgress(ctx context.Context, jobID string, snap ProgressSnapshot) error
}

// BlobStore writes artifacts (screenshot slices, the manifest) and returns
// a storage URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string `json:"job_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// StabilizeOptions controls the settle phase between navigation and capture.
type StabilizeOptions struct {
	NetworkIdleTimeout time.Duration
	PostLoadDelay      time.Duration
}

// Browser abstracts the automation engine driving one page at a time.
// Navigate replaces the current page; the remaining methods act on it.
type Browser interface {
	SetCookies(ctx context.Context, scopeURL string, cookies []Cookie) error
	Login(ctx context.Context, creds Credentials) error
	Navigate(ctx context.Context, rawURL string) error
	Stabilize(ctx context.Context, opts StabilizeOptions) error
	CaptureFullPage(ctx context.Context, deviceScaleFactor float64) ([]byte, error)
	Title(ctx context.Context) (string, error)
	Links(ctx context.Context) ([]string, error)
	Close() error
}

// ProgressNotifier receives pipeline transitions. Implementations must never
// block the crawl loop; failures are theirs to absorb.
type ProgressNotifier interface {
	Report(stage string, currentPage, totalPages int, currentURL string)
}

// LanguageDetector extracts a language code from a URL, if one is present.
// Default returns the language assumed when the start URL carries no marker.
// PathLanguagePrefix reports whether the first path segment is a recognized
// language code; section-key derivation skips such a prefix.
type LanguageDetector interface {
	Detect(u *url.URL) (code string, ok bool)
	Default() string
	PathLanguagePrefix(u *url.URL) (code string, ok bool)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
