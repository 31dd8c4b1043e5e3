// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitelens/sitelens/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrJobNotFound is returned when a job ID has no stored row.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when a status transition targets a job that
// already reached completed or failed. Terminal states are written exactly
// once.
var ErrJobTerminal = errors.New("job already in a terminal state")

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists crawl jobs in Postgres.
type JobStore struct {
	pool  querier
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawl.Job) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	config,
	status,
	submitted
) VALUES (
	$1,$2,$3,$4
)`, s.table)

	if _, err := s.pool.Exec(ctx, query, job.ID, configJSON, string(job.Status), job.Submitted); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	if s == nil || s.pool == nil {
		return crawl.Job{}, fmt.Errorf("job store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, config, status, progress, manifest_url, error_text, submitted, started, finished
FROM %s WHERE id = $1`, s.table)

	var (
		job          crawl.Job
		status       string
		configJSON   []byte
		progressJSON []byte
	)
	row := s.pool.QueryRow(ctx, query, jobID)
	err := row.Scan(&job.ID, &configJSON, &status, &progressJSON,
		&job.ManifestURL, &job.ErrorText, &job.Submitted, &job.Started, &job.Finished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, ErrJobNotFound
		}
		return crawl.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawl.JobStatus(status)
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return crawl.Job{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(progressJSON) > 0 {
		var snap crawl.ProgressSnapshot
		if err := json.Unmarshal(progressJSON, &snap); err != nil {
			return crawl.Job{}, fmt.Errorf("unmarshal progress: %w", err)
		}
		job.Progress = &snap
	}
	return job, nil
}

// MarkActive transitions a job to active and stamps its start time.
func (s *JobStore) MarkActive(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, started = COALESCE(started, $3)
WHERE id = $1 AND status NOT IN ('completed','failed')`, s.table)
	return s.transition(ctx, "mark active", query, jobID, string(crawl.JobStatusActive), time.Now().UTC())
}

// MarkCompleted finalizes a job with its manifest location.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID, manifestURL string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, manifest_url = $3, error_text = '', finished = $4
WHERE id = $1 AND status NOT IN ('completed','failed')`, s.table)
	return s.transition(ctx, "mark completed", query,
		jobID, string(crawl.JobStatusCompleted), manifestURL, time.Now().UTC())
}

// MarkFailed finalizes a job with an error description.
func (s *JobStore) MarkFailed(ctx context.Context, jobID, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, error_text = $3, finished = $4
WHERE id = $1 AND status NOT IN ('completed','failed')`, s.table)
	return s.transition(ctx, "mark failed", query,
		jobID, string(crawl.JobStatusFailed), errText, time.Now().UTC())
}

// UpdateProgress overwrites the job's latest progress snapshot.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, snap crawl.ProgressSnapshot) error {
	progressJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET progress = $2 WHERE id = $1`, s.table)
	return s.exec(ctx, "update progress", query, jobID, progressJSON)
}

func (s *JobStore) exec(ctx context.Context, op, query string, args ...any) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// transition runs a status UPDATE carrying the terminal guard in its WHERE
// clause. Zero affected rows means either a missing job or one that is
// already terminal; a follow-up status read tells the two apart.
func (s *JobStore) transition(ctx context.Context, op, query, jobID string, args ...any) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	tag, err := s.pool.Exec(ctx, query, append([]any{jobID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table), jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if crawl.JobStatus(status).Terminal() {
		return ErrJobTerminal
	}
	return ErrJobNotFound
}
