package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sitelens/sitelens/internal/crawl"
)

// ErrJobNotFound is returned when a job ID has no stored row.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when a status transition targets a job that
// already reached completed or failed. Terminal states are written exactly
// once.
var ErrJobTerminal = errors.New("job already in a terminal state")

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawl.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawl.Job),
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, ErrJobNotFound
	}
	return job, nil
}

// MarkActive transitions a job to active and stamps its start time.
func (s *JobStore) MarkActive(_ context.Context, jobID string) error {
	return s.transition(jobID, func(job *crawl.Job) {
		job.Status = crawl.JobStatusActive
		if job.Started == nil {
			job.Started = pointerTime(time.Now().UTC())
		}
	})
}

// MarkCompleted finalizes a job with its manifest location.
func (s *JobStore) MarkCompleted(_ context.Context, jobID, manifestURL string) error {
	return s.transition(jobID, func(job *crawl.Job) {
		job.Status = crawl.JobStatusCompleted
		job.ManifestURL = manifestURL
		job.ErrorText = ""
		job.Finished = pointerTime(time.Now().UTC())
	})
}

// MarkFailed finalizes a job with an error description.
func (s *JobStore) MarkFailed(_ context.Context, jobID, errText string) error {
	return s.transition(jobID, func(job *crawl.Job) {
		job.Status = crawl.JobStatusFailed
		job.ErrorText = errText
		job.Finished = pointerTime(time.Now().UTC())
	})
}

// UpdateProgress overwrites the job's latest progress snapshot.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, snap crawl.ProgressSnapshot) error {
	return s.update(jobID, func(job *crawl.Job) {
		job.Progress = &snap
	})
}

func (s *JobStore) update(jobID string, mutate func(*crawl.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	mutate(&job)
	s.jobs[jobID] = job
	return nil
}

// transition is update with the terminal-once guard applied.
func (s *JobStore) transition(jobID string, mutate func(*crawl.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	mutate(&job)
	s.jobs[jobID] = job
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
