package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

// Recorder turns visitor outcomes into persisted result rows and keeps
// the job counters in step with them.
type Recorder struct {
	results siteops.ResultStore
	jobs    siteops.JobStore
	clock   siteops.Clock
	idGen   siteops.IDGenerator
	logger  *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(
	results siteops.ResultStore,
	jobs siteops.JobStore,
	clock siteops.Clock,
	idGen siteops.IDGenerator,
	logger *zap.Logger,
) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		results: results,
		jobs:    jobs,
		clock:   clock,
		idGen:   idGen,
		logger:  logger,
	}
}

// Record upserts the result row for one item and then increments the
// job's success or failure counter. The upsert is idempotent on
// (job id, item key); a replay can never double a row. An error here is
// an engine-level fault, not an item failure.
func (r *Recorder) Record(ctx context.Context, job siteops.Job, item siteops.WorkItem, outcome siteops.Outcome) error {
	id, err := r.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate result id: %w", err)
	}

	result := siteops.Result{
		ID:              id,
		JobID:           job.ID,
		ItemKey:         item.Key,
		Category:        item.Category,
		Succeeded:       !outcome.Failed,
		StatusCode:      outcome.StatusCode,
		ContentType:     outcome.ContentType,
		ByteSize:        outcome.ByteSize,
		Title:           outcome.Title,
		MetaDescription: outcome.MetaDescription,
		H1:              outcome.H1,
		Canonical:       outcome.Canonical,
		Robots:          outcome.Robots,
		RenderMillis:    outcome.RenderMillis,
		BlobURI:         outcome.BlobURI,
		ErrorText:       outcome.ErrorText,
		ProcessedAt:     r.clock.Now(),
	}

	if err := r.results.Upsert(ctx, result); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	succeeded, failed := 1, 0
	if outcome.Failed {
		succeeded, failed = 0, 1
	}
	if err := r.jobs.IncrementCounters(ctx, job.ID, succeeded, failed); err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}

	r.logger.Debug("item recorded",
		zap.String("job_id", job.ID),
		zap.String("item_key", item.Key),
		zap.Bool("failed", outcome.Failed),
	)
	return nil
}
