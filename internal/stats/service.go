// Package stats serves aggregate views, filtered result pages, and CSV
// exports over the durable result rows of a job.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

// DefaultMaxPageSize caps a single result page.
const DefaultMaxPageSize = 500

// Service wraps a ResultStore with paging limits and export.
type Service struct {
	results     siteops.ResultStore
	jobs        siteops.JobStore
	maxPageSize int
	logger      *zap.Logger
}

// New constructs a Service. A maxPageSize of zero or less falls back to
// DefaultMaxPageSize.
func New(results siteops.ResultStore, jobs siteops.JobStore, maxPageSize int, logger *zap.Logger) *Service {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{results: results, jobs: jobs, maxPageSize: maxPageSize, logger: logger}
}

// Stats returns the live aggregates for a job. The job must exist; the
// aggregates reflect whatever has been recorded so far, so a Running job
// yields a partial snapshot.
func (s *Service) Stats(ctx context.Context, jobID string) (siteops.JobStats, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return siteops.JobStats{}, err
	}
	stats, err := s.results.Stats(ctx, jobID)
	if err != nil {
		return siteops.JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// Page is one page of filtered results plus the filtered total.
type Page struct {
	Results []siteops.Result `json:"results"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// Query returns a filtered, ordered page of results. The limit is
// clamped to the service's max page size; zero means the max. A negative
// offset is treated as zero.
func (s *Service) Query(ctx context.Context, jobID string, filter siteops.ResultFilter, offset, limit int) (Page, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return Page{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	results, total, err := s.results.List(ctx, jobID, filter, offset, limit)
	if err != nil {
		return Page{}, fmt.Errorf("list results: %w", err)
	}
	return Page{Results: results, Total: total, Offset: offset, Limit: limit}, nil
}
