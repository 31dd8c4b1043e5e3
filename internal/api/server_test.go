package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/crawl"
	queueMemory "github.com/sitelens/sitelens/internal/queue/memory"
)

func testConfig() config.Config {
	return config.Config{
		Crawl: config.CrawlConfig{
			MaxPagesDefault: 25,
			RequestDelayMs:  1000,
		},
		Storage: config.StorageConfig{OutputBaseURL: "https://cdn.example.com/crawls"},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newTestServerWithStore(store *apiFakeJobStore) (*Server, *queueMemory.Queue) {
	q := queueMemory.NewQueue(10)
	idGen := &fakeIDGen{ids: []string{"job-1", "job-2"}}
	clock := &fakeClock{now: time.Unix(100, 0).UTC()}
	return NewServer(store, q, idGen, clock, testConfig(), zap.NewNop()), q
}

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	server, q := newTestServerWithStore(store)

	reqBody := []byte(`{"url":"https://example.com","maxRequestsPerCrawl":5,"maxDepth":2,"sampleSize":3}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)

	job := store.jobs["job-1"]
	require.Equal(t, crawl.JobStatusPending, job.Status)
	require.Equal(t, "https://example.com", job.Config.TargetURL)
	require.Equal(t, 5, job.Config.MaxPages)
	require.Equal(t, 2, job.Config.MaxDepth)
	require.Equal(t, 3, job.Config.SampleSize)
	require.Equal(t, time.Second, job.Config.RequestDelay)
}

func TestServer_SubmitCrawl_AppliesDefaults(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	server, _ := newTestServerWithStore(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 25, store.jobs["job-1"].Config.MaxPages)
	require.Equal(t, "https://cdn.example.com/crawls", store.jobs["job-1"].Config.OutputBaseURL)
}

func TestServer_SubmitCrawl_RequiresOutputBase(t *testing.T) {
	t.Parallel()

	// No request value and no configured default.
	cfg := testConfig()
	cfg.Storage.OutputBaseURL = ""
	server := NewServer(newAPIFakeJobStore(), queueMemory.NewQueue(10),
		&fakeIDGen{ids: []string{"job-1"}}, &fakeClock{now: time.Unix(1, 0)}, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "outputBaseUrl")
}

func TestServer_SubmitCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	server, _ := newTestServerWithStore(newAPIFakeJobStore())
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitCrawl_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing url":      `{}`,
		"relative url":     `{"url":"/docs"}`,
		"bad scheme":       `{"url":"ftp://example.com"}`,
		"negative budget":  `{"url":"https://example.com","maxRequestsPerCrawl":-1}`,
		"negative delay":   `{"url":"https://example.com","delay":-5}`,
		"conflicting auth": `{"url":"https://example.com","auth":{"cookies":[{"name":"s","value":"v"}],"credentials":{"loginUrl":"https://example.com/login","username":"u","password":"p"}}}`,
	}
	for name, body := range cases {
		server, _ := newTestServerWithStore(newAPIFakeJobStore())
		req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, "case %q", name)
	}
}

func TestServer_GetCrawlStatus_ActiveReadsProcessing(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	store.jobs["job-9"] = crawl.Job{
		ID:     "job-9",
		Status: crawl.JobStatusActive,
		Progress: &crawl.ProgressSnapshot{
			Stage:       "crawling",
			CurrentPage: 3,
			TotalPages:  10,
			Percent:     30,
		},
	}
	server, _ := newTestServerWithStore(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/job-9/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "processing", resp["status"])
	require.NotContains(t, resp, "result")
	require.Equal(t, float64(30), resp["progress"])
	detailed, ok := resp["detailedProgress"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "crawling", detailed["stage"])
	require.Equal(t, float64(3), detailed["currentPage"])
}

func TestServer_GetCrawlStatus_CompletedIncludesManifest(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	store.jobs["job-9"] = crawl.Job{
		ID:          "job-9",
		Status:      crawl.JobStatusCompleted,
		ManifestURL: "gs://bucket/job-9/manifest.json",
	}
	server, _ := newTestServerWithStore(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/job-9/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp["status"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "gs://bucket/job-9/manifest.json", result["manifestUrl"])
}

func TestServer_GetCrawlStatus_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServerWithStore(newAPIFakeJobStore())
	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/missing/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_IngestProgress_StoresSnapshot(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	store.jobs["job-9"] = crawl.Job{ID: "job-9", Status: crawl.JobStatusActive}
	server, _ := newTestServerWithStore(store)

	body := `{"stage":"crawling","currentPage":4,"totalPages":10,"currentUrl":"https://example.com/p","percent":40}`
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/job-9/progress", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	job := store.jobs["job-9"]
	require.NotNil(t, job.Progress)
	require.Equal(t, 4, job.Progress.CurrentPage)
	require.False(t, job.Progress.UpdatedAt.IsZero(), "missing timestamps are stamped on ingest")
}

func TestServer_IngestProgress_AcceptsBarePercentKey(t *testing.T) {
	t.Parallel()

	store := newAPIFakeJobStore()
	store.jobs["job-9"] = crawl.Job{ID: "job-9", Status: crawl.JobStatusActive}
	server, _ := newTestServerWithStore(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/job-9/progress",
		bytes.NewBufferString(`{"progress":42}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	job := store.jobs["job-9"]
	require.NotNil(t, job.Progress)
	require.Equal(t, float64(42), job.Progress.Percent)
}

func TestServer_IngestProgress_UnknownJob(t *testing.T) {
	t.Parallel()

	server, _ := newTestServerWithStore(newAPIFakeJobStore())
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/missing/progress", bytes.NewBufferString(`{"stage":"crawling"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServerWithStore(newAPIFakeJobStore())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	store := newAPIFakeJobStore()
	q := queueMemory.NewQueue(10)
	server := NewServer(store, q, &fakeIDGen{ids: []string{"job-1"}},
		&fakeClock{now: time.Unix(1, 0)}, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

type apiFakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]crawl.Job
}

func newAPIFakeJobStore() *apiFakeJobStore {
	return &apiFakeJobStore{jobs: make(map[string]crawl.Job)}
}

func (s *apiFakeJobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *apiFakeJobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, errors.New("job not found")
	}
	return job, nil
}

func (s *apiFakeJobStore) MarkActive(_ context.Context, jobID string) error {
	return s.setStatus(jobID, crawl.JobStatusActive)
}

func (s *apiFakeJobStore) MarkCompleted(_ context.Context, jobID, manifestURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = crawl.JobStatusCompleted
	job.ManifestURL = manifestURL
	s.jobs[jobID] = job
	return nil
}

func (s *apiFakeJobStore) MarkFailed(_ context.Context, jobID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = crawl.JobStatusFailed
	job.ErrorText = errText
	s.jobs[jobID] = job
	return nil
}

func (s *apiFakeJobStore) UpdateProgress(_ context.Context, jobID string, snap crawl.ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Progress = &snap
	s.jobs[jobID] = job
	return nil
}

func (s *apiFakeJobStore) setStatus(jobID string, status crawl.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = status
	s.jobs[jobID] = job
	return nil
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("out of ids")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
