// Package worker implements the crawl job execution loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/progress"
	"github.com/sitelens/sitelens/internal/sitetree"
)

// BrowserFactory opens a fresh browser for one job. Each job gets its own
// browser so a crashed Chrome cannot poison later jobs.
type BrowserFactory func(ctx context.Context) (crawl.Browser, error)

// Config controls Worker behavior.
type Config struct {
	Engine crawl.EngineConfig
	// ShutdownGrace bounds browser teardown after a job finishes.
	ShutdownGrace time.Duration
}

// Worker consumes queue items and executes crawl jobs one at a time.
type Worker struct {
	queue      crawl.Queue
	jobStore   crawl.JobStore
	blobStore  crawl.BlobStore
	newBrowser BrowserFactory
	detector   crawl.LanguageDetector
	clock      crawl.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawl.Queue,
	jobStore crawl.JobStore,
	blobStore crawl.BlobStore,
	newBrowser BrowserFactory,
	detector crawl.LanguageDetector,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		blobStore:  blobStore,
		newBrowser: newBrowser,
		detector:   detector,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawl.QueueItem) {
	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		w.logger.Warn("skipping job in terminal state",
			zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return
	}

	if err := w.jobStore.MarkActive(ctx, job.ID); err != nil {
		w.logger.Error("mark job active failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	reporter := progress.NewReporter(job.ID, w.clock, w.logger,
		progress.NewStoreSink(w.jobStore),
		progress.NewLogSink(w.logger),
	)

	manifestURL, err := w.runCrawl(ctx, job, reporter)
	if err != nil {
		crawl.JobsFailed.Inc()
		reporter.Report(crawl.StageFailed, 0, job.Config.MaxPages, "")
		w.logger.Error("crawl failed", zap.String("job_id", job.ID), zap.Error(err))
		if markErr := w.jobStore.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			w.logger.Error("mark job failed errored", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return
	}

	crawl.JobsCompleted.Inc()
	reporter.Report(crawl.StageCompleted, job.Config.MaxPages, job.Config.MaxPages, "")
	if err := w.jobStore.MarkCompleted(ctx, job.ID, manifestURL); err != nil {
		w.logger.Error("mark job completed failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Info("crawl completed",
		zap.String("job_id", job.ID),
		zap.String("manifest_url", manifestURL),
	)
}

// runCrawl executes the full pipeline for one job: browse, capture, build
// the tree, and upload the manifest. The manifest is the last artifact
// written, so its presence means the crawl output is complete.
func (w *Worker) runCrawl(ctx context.Context, job crawl.Job, reporter *progress.Reporter) (string, error) {
	browser, err := w.newBrowser(ctx)
	if err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	defer w.closeBrowser(job.ID, browser)

	engine := crawl.NewEngine(browser, w.blobStore, w.detector, w.cfg.Engine, w.logger)
	pages, err := engine.Run(ctx, job, reporter)
	if err != nil {
		return "", fmt.Errorf("crawl: %w", err)
	}
	if len(pages) == 0 {
		// Page-level failures are isolated; an empty page set is still a
		// completed crawl with a null tree in the manifest.
		w.logger.Warn("crawl captured no pages", zap.String("job_id", job.ID))
	}

	reporter.Report(crawl.StageBuildingTree, len(pages), job.Config.MaxPages, "")
	tree := sitetree.Build(pages, job.Config.TargetURL, w.logger)
	manifest := sitetree.NewManifest(job.Config.TargetURL, w.clock.Now(), tree)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	reporter.Report(crawl.StageUploading, len(pages), job.Config.MaxPages, "")
	path := job.ID + "/manifest.json"
	if _, err := w.blobStore.PutObject(ctx, path, "application/json", data); err != nil {
		return "", fmt.Errorf("store manifest: %w", err)
	}
	return publicURL(job.Config.OutputBaseURL, path), nil
}

func (w *Worker) closeBrowser(jobID string, browser crawl.Browser) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := browser.Close(); err != nil {
			w.logger.Warn("browser close failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("browser close timed out", zap.String("job_id", jobID))
	}
}

func publicURL(base, path string) string {
	if base == "" {
		return path
	}
	if base[len(base)-1] == '/' {
		return base + path
	}
	return base + "/" + path
}
