// Package progress fans crawl progress snapshots out to interested sinks.
// Pushes are best-effort: a slow or failing sink never stalls the crawl.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
)

// DefaultPushTimeout bounds a single sink push.
const DefaultPushTimeout = 2 * time.Second

// Sink receives progress snapshots for a job.
type Sink interface {
	Push(ctx context.Context, jobID string, snap crawl.ProgressSnapshot) error
}

// Reporter implements crawl.ProgressNotifier by pushing overwrite-style
// snapshots to each configured sink.
type Reporter struct {
	jobID   string
	sinks   []Sink
	timeout time.Duration
	clock   crawl.Clock
	logger  *zap.Logger
	warned  atomic.Bool
}

// NewReporter builds a Reporter for one job.
func NewReporter(jobID string, clock crawl.Clock, logger *zap.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		jobID:   jobID,
		sinks:   sinks,
		timeout: DefaultPushTimeout,
		clock:   clock,
		logger:  logger,
	}
}

// Report pushes the latest snapshot to every sink. Failures are logged once
// per job and otherwise swallowed.
func (r *Reporter) Report(stage string, currentPage, totalPages int, currentURL string) {
	if r == nil {
		return
	}
	snap := crawl.ProgressSnapshot{
		Stage:       stage,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		CurrentURL:  currentURL,
		Percent:     Percent(currentPage, totalPages),
		UpdatedAt:   r.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Push(ctx, r.jobID, snap); err != nil {
			if r.warned.CompareAndSwap(false, true) {
				r.logger.Warn("progress push failed; further push failures for this job are suppressed",
					zap.String("job_id", r.jobID),
					zap.String("stage", stage),
					zap.Error(err),
				)
			}
		}
	}
}

// Percent converts page counters to a 0-100 completion figure.
func Percent(current, total int) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	pct := float64(current) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
