package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesCaptured tracks pages captured, sliced, and recorded.
	PagesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_pages_captured_total",
		Help: "The total number of pages captured and recorded.",
	})
	// PagesDropped tracks admitted pages dropped after exhausting retries.
	PagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_pages_dropped_total",
		Help: "The total number of admitted pages dropped due to page-level failures.",
	})
	// SlicesWritten tracks screenshot slice artifacts persisted.
	SlicesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_slices_written_total",
		Help: "The total number of screenshot slices written to storage.",
	})
	// NavigationRetries tracks navigation attempts beyond the first.
	NavigationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_navigation_retries_total",
		Help: "The total number of navigation retries.",
	})
	// JobsCompleted tracks crawl jobs that reached completed.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_jobs_completed_total",
		Help: "The total number of crawl jobs completed successfully.",
	})
	// JobsFailed tracks crawl jobs that reached failed.
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitelens_jobs_failed_total",
		Help: "The total number of crawl jobs that failed.",
	})
)
