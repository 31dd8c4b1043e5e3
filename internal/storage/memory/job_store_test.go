package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitelens/sitelens/internal/crawl"
)

func TestJobStore_Lifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawl.Job{
		ID:        "job-1",
		Status:    crawl.JobStatusPending,
		Submitted: time.Unix(100, 0),
	}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorContains(t, store.CreateJob(ctx, job), "already exists")

	require.NoError(t, store.MarkActive(ctx, "job-1"))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusActive, got.Status)
	require.NotNil(t, got.Started)

	require.NoError(t, store.MarkCompleted(ctx, "job-1", "memory://job-1/manifest.json"))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCompleted, got.Status)
	require.Equal(t, "memory://job-1/manifest.json", got.ManifestURL)
	require.NotNil(t, got.Finished)
}

func TestJobStore_MarkFailedRecordsError(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawl.Job{ID: "job-1"}))

	require.NoError(t, store.MarkFailed(ctx, "job-1", "navigation timed out"))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusFailed, got.Status)
	require.Equal(t, "navigation timed out", got.ErrorText)
}

func TestJobStore_ProgressOverwrites(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawl.Job{ID: "job-1"}))

	require.NoError(t, store.UpdateProgress(ctx, "job-1", crawl.ProgressSnapshot{Stage: "starting"}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", crawl.ProgressSnapshot{Stage: "crawling", CurrentPage: 3}))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	require.Equal(t, "crawling", got.Progress.Stage)
	require.Equal(t, 3, got.Progress.CurrentPage)
}

func TestJobStore_TerminalStateIsFinal(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawl.Job{ID: "job-1"}))
	require.NoError(t, store.MarkCompleted(ctx, "job-1", "memory://job-1/manifest.json"))

	require.ErrorIs(t, store.MarkFailed(ctx, "job-1", "late failure"), ErrJobTerminal)
	require.ErrorIs(t, store.MarkCompleted(ctx, "job-1", "memory://other"), ErrJobTerminal)
	require.ErrorIs(t, store.MarkActive(ctx, "job-1"), ErrJobTerminal)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCompleted, got.Status)
	require.Equal(t, "memory://job-1/manifest.json", got.ManifestURL)
	require.Empty(t, got.ErrorText)
}

func TestJobStore_UnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, store.MarkActive(ctx, "missing"), ErrJobNotFound)
	require.ErrorIs(t, store.MarkCompleted(ctx, "missing", ""), ErrJobNotFound)
	require.ErrorIs(t, store.MarkFailed(ctx, "missing", ""), ErrJobNotFound)
}
