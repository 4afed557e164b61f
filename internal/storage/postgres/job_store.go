package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagegrove/siteops/internal/siteops"
)

// JobStore persists job rows in the siteops_jobs table.
type JobStore struct {
	pool dbPool
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row. The config is stored as jsonb.
func (s *JobStore) CreateJob(ctx context.Context, job siteops.Job) error {
	cfgJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	query := `
INSERT INTO siteops_jobs (
	id, site_id, kind, config, status, cancel_requested,
	total_items, succeeded, failed, error_text, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.SiteID,
		string(job.Kind),
		cfgJSON,
		string(job.Status),
		job.CancelRequested,
		job.TotalItems,
		job.Counters.Succeeded,
		job.Counters.Failed,
		job.ErrorText,
		job.Created,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (siteops.Job, error) {
	query := `
SELECT id, site_id, kind, config, status, cancel_requested,
	total_items, succeeded, failed, error_text, created_at, started_at, finished_at
FROM siteops_jobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, jobID)

	var (
		job     siteops.Job
		kind    string
		status  string
		cfgJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.SiteID,
		&kind,
		&cfgJSON,
		&status,
		&job.CancelRequested,
		&job.TotalItems,
		&job.Counters.Succeeded,
		&job.Counters.Failed,
		&job.ErrorText,
		&job.Created,
		&job.Started,
		&job.Finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return siteops.Job{}, siteops.ErrNotFound
	}
	if err != nil {
		return siteops.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Kind = siteops.JobKind(kind)
	job.Status = siteops.JobStatus(status)
	if err := json.Unmarshal(cfgJSON, &job.Config); err != nil {
		return siteops.Job{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	return job, nil
}

// TransitionStatus performs the compare-and-set status move in a single
// UPDATE guarded on the expected current status. The database row is the
// arbiter, so concurrent callers get exactly one winner.
func (s *JobStore) TransitionStatus(ctx context.Context, jobID string, from, to siteops.JobStatus, errText string) (bool, error) {
	if !siteops.CanTransition(from, to) {
		return false, siteops.ErrIllegalTransition
	}
	query := `
UPDATE siteops_jobs SET
	status = $3,
	error_text = $4,
	started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $3 IN ('completed','failed','cancelled') THEN now() ELSE finished_at END
WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, jobID, string(from), string(to), errText)
	if err != nil {
		return false, fmt.Errorf("transition job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// No row moved: either the job does not exist or the CAS lost.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM siteops_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return false, siteops.ErrNotFound
	}
	return false, nil
}

// SetTotal fixes the enumerated item count for a job.
func (s *JobStore) SetTotal(ctx context.Context, jobID string, total int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE siteops_jobs SET total_items = $2 WHERE id = $1`, jobID, total)
	if err != nil {
		return fmt.Errorf("set job total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return siteops.ErrNotFound
	}
	return nil
}

// IncrementCounters adds to the success/failure counters in one
// statement, so concurrent recorders never lose an increment.
func (s *JobStore) IncrementCounters(ctx context.Context, jobID string, succeeded, failed int) error {
	query := `UPDATE siteops_jobs SET succeeded = succeeded + $2, failed = failed + $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, succeeded, failed)
	if err != nil {
		return fmt.Errorf("increment job counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return siteops.ErrNotFound
	}
	return nil
}

// RequestCancel marks the persisted cancellation flag.
func (s *JobStore) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE siteops_jobs SET cancel_requested = TRUE WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("request job cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return siteops.ErrNotFound
	}
	return nil
}
