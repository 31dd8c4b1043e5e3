package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
)

// StoreSink persists snapshots through the job store so status polls see
// the latest progress.
type StoreSink struct {
	store crawl.JobStore
}

// NewStoreSink wraps a job store as a progress sink.
func NewStoreSink(store crawl.JobStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Push(ctx context.Context, jobID string, snap crawl.ProgressSnapshot) error {
	if err := s.store.UpdateProgress(ctx, jobID, snap); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// LogSink mirrors snapshots into the structured log at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Push(_ context.Context, jobID string, snap crawl.ProgressSnapshot) error {
	s.logger.Debug("crawl progress",
		zap.String("job_id", jobID),
		zap.String("stage", snap.Stage),
		zap.Int("current_page", snap.CurrentPage),
		zap.Int("total_pages", snap.TotalPages),
		zap.String("current_url", snap.CurrentURL),
		zap.Float64("percent", snap.Percent),
	)
	return nil
}
