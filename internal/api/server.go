// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/crawl"
)

// Server wires HTTP handlers to the queue and the job store.
type Server struct {
	router   chi.Router
	jobStore crawl.JobStore
	queue    crawl.Queue
	idGen    crawl.IDGenerator
	clock    crawl.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawl.JobStore,
	queue crawl.Queue,
	idGen crawl.IDGenerator,
	clock crawl.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getCrawlStatus)
				r.Post("/progress", s.ingestProgress)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL                 string             `json:"url"`
	OutputBaseURL       string             `json:"outputBaseUrl"`
	MaxRequestsPerCrawl int                `json:"maxRequestsPerCrawl"`
	MaxDepth            int                `json:"maxDepth"`
	SampleSize          int                `json:"sampleSize"`
	DefaultLanguageOnly bool               `json:"defaultLanguageOnly"`
	RequestDelayMs      *int               `json:"requestDelayMs"`
	DelayMs             int                `json:"delay"`
	DeviceScaleFactor   float64            `json:"deviceScaleFactor"`
	Auth                *crawl.AuthSession `json:"auth,omitempty"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.toCrawlConfig(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.enqueueJob(r.Context(), cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) getCrawlStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := map[string]any{
		"jobId":  job.ID,
		"status": statusLabel(job.Status),
	}
	if job.Progress != nil {
		resp["progress"] = job.Progress.Percent
		resp["detailedProgress"] = job.Progress
	}
	if job.Status == crawl.JobStatusCompleted {
		resp["result"] = map[string]string{"manifestUrl": job.ManifestURL}
	}
	if job.Status == crawl.JobStatusFailed && job.ErrorText != "" {
		resp["error"] = job.ErrorText
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ingestProgress accepts raw progress events from an external capture
// process and stores them with overwrite semantics.
func (s *Server) ingestProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobStore.GetJob(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	// The percent also arrives under the bare "progress" key, mirroring the
	// status response shape.
	var payload struct {
		crawl.ProgressSnapshot
		ProgressPercent *float64 `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap := payload.ProgressSnapshot
	if payload.ProgressPercent != nil {
		snap.Percent = *payload.ProgressPercent
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.clock.Now()
	}
	if err := s.jobStore.UpdateProgress(r.Context(), jobID, snap); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store progress")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) enqueueJob(ctx context.Context, cfg crawl.CrawlConfig) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawl.Job{
		ID:        jobID,
		Config:    cfg,
		Status:    crawl.JobStatusPending,
		Submitted: now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawl.QueueItem{
		JobID:     jobID,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toCrawlConfig(req crawlRequest) (crawl.CrawlConfig, error) {
	if req.URL == "" {
		return crawl.CrawlConfig{}, errors.New("url is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return crawl.CrawlConfig{}, errors.New("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return crawl.CrawlConfig{}, errors.New("url scheme must be http or https")
	}
	if req.MaxRequestsPerCrawl < 0 || req.MaxDepth < 0 || req.SampleSize < 0 {
		return crawl.CrawlConfig{}, errors.New("limits must not be negative")
	}
	if req.DelayMs < 0 {
		return crawl.CrawlConfig{}, errors.New("delay must not be negative")
	}
	if req.Auth != nil && len(req.Auth.Cookies) > 0 && req.Auth.Credentials != nil {
		return crawl.CrawlConfig{}, errors.New("auth must use cookies or credentials, not both")
	}

	maxPages := req.MaxRequestsPerCrawl
	if maxPages == 0 {
		maxPages = s.cfg.Crawl.MaxPagesDefault
	}
	requestDelay := s.cfg.RequestDelay()
	if req.RequestDelayMs != nil {
		requestDelay = time.Duration(*req.RequestDelayMs) * time.Millisecond
	}
	outputBase := req.OutputBaseURL
	if outputBase == "" {
		outputBase = s.cfg.Storage.OutputBaseURL
	}
	if outputBase == "" {
		return crawl.CrawlConfig{}, errors.New("outputBaseUrl is required when storage has no default")
	}

	return crawl.CrawlConfig{
		TargetURL:           req.URL,
		OutputBaseURL:       outputBase,
		MaxPages:            maxPages,
		MaxDepth:            req.MaxDepth,
		SampleSize:          req.SampleSize,
		DefaultLanguageOnly: req.DefaultLanguageOnly,
		RequestDelay:        requestDelay,
		PostLoadDelay:       time.Duration(req.DelayMs) * time.Millisecond,
		DeviceScaleFactor:   req.DeviceScaleFactor,
		Auth:                req.Auth,
	}, nil
}

// statusLabel maps internal statuses to the public API vocabulary.
func statusLabel(status crawl.JobStatus) string {
	if status == crawl.JobStatusActive {
		return "processing"
	}
	return string(status)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
