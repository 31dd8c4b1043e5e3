// Package main wires together the crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/api"
	"github.com/sitelens/sitelens/internal/browser"
	"github.com/sitelens/sitelens/internal/clock/system"
	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/id/uuid"
	"github.com/sitelens/sitelens/internal/logging"
	queueMemory "github.com/sitelens/sitelens/internal/queue/memory"
	pubsubQueue "github.com/sitelens/sitelens/internal/queue/pubsub"
	"github.com/sitelens/sitelens/internal/storage/gcs"
	"github.com/sitelens/sitelens/internal/storage/local"
	memoryStorage "github.com/sitelens/sitelens/internal/storage/memory"
	"github.com/sitelens/sitelens/internal/storage/postgres"
	"github.com/sitelens/sitelens/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, closeJobStore, err := buildJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer closeJobStore()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	queue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}
	defer closeQueue()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	detector := crawl.NewAllowListDetector(nil, "")

	newBrowser := func(_ context.Context) (crawl.Browser, error) {
		return browser.New(browser.Config{
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
		}, logging.Component(logger, "browser"))
	}

	workerCfg := worker.Config{
		Engine: crawl.EngineConfig{
			NavigationTimeout:     time.Duration(cfg.Crawl.NavTimeoutSeconds) * time.Second,
			PageTimeout:           time.Duration(cfg.Crawl.PageTimeoutSeconds) * time.Second,
			NetworkIdleTimeout:    time.Duration(cfg.Crawl.NetworkIdleSeconds) * time.Second,
			MaxNavigationAttempts: cfg.Crawl.MaxNavigationAttempts,
			MaxTileHeight:         cfg.Crawl.MaxTileHeight,
			TileOverlap:           cfg.Crawl.TileOverlap,
		},
	}
	crawlWorker := worker.New(
		queue,
		jobStore,
		blobStore,
		newBrowser,
		detector,
		clock,
		workerCfg,
		logging.Component(logger, "worker"),
	)

	apiServer := api.NewServer(jobStore, queue, idGen, clock, cfg, logging.Component(logger, "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker started")
		crawlWorker.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildJobStore(ctx context.Context, cfg config.Config) (crawl.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memoryStorage.NewJobStore(), func() {}, nil
	}
	store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return local.New(local.Config{BaseDir: cfg.Storage.LocalBaseDir})
	}
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawl.Queue, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		q := queueMemory.NewQueue(cfg.Crawl.QueueDepth)
		return q, q.Close, nil
	}
	q, err := pubsubQueue.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName,
		cfg.PubSub.SubscriptionID, logging.Component(logger, "pubsub"))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := q.Close(); err != nil {
			logger.Warn("pubsub queue close failed", zap.Error(err))
		}
	}
	return q, closeFn, nil
}
