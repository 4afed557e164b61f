package siteops

import (
	"context"
	"io"
	"time"
)

// JobStore persists job rows and their run state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)

	// TransitionStatus performs an atomic compare-and-set of the job's
	// status. It returns false (with a nil error) when the job was not
	// in the expected from status, which is how concurrent Start calls
	// lose deterministically. Timestamps are maintained by the store:
	// started_at on entering Running, finished_at on any terminal state.
	TransitionStatus(ctx context.Context, jobID string, from, to JobStatus, errText string) (bool, error)

	// SetTotal fixes the enumerated item count once, when the run begins.
	SetTotal(ctx context.Context, jobID string, total int) error

	// IncrementCounters atomically adds to the success/failure counters.
	IncrementCounters(ctx context.Context, jobID string, succeeded, failed int) error

	// RequestCancel marks the persisted cancellation flag so external
	// callers can observe a pending cancel on a Running job.
	RequestCancel(ctx context.Context, jobID string) error
}

// ResultFilter narrows result queries. All set predicates combine with
// AND semantics.
type ResultFilter struct {
	Category           *Category
	StatusBucket       string // "2xx", "3xx", "4xx" or "5xx"
	Succeeded          *bool
	MissingTitle       bool
	MissingDescription bool
	MissingH1          bool
}

// JobStats aggregates the result rows of one job.
type JobStats struct {
	Total              int              `json:"total"`
	Succeeded          int              `json:"succeeded"`
	Failed             int              `json:"failed"`
	StatusBuckets      map[string]int   `json:"status_buckets"`
	MissingTitle       int              `json:"missing_title"`
	MissingDescription int              `json:"missing_description"`
	MissingH1          int              `json:"missing_h1"`
	ByCategory         map[Category]int `json:"by_category"`
}

// ResultStore persists one outcome row per (job, item key) pair.
type ResultStore interface {
	// Upsert writes a result idempotently; a second write for the same
	// (job, item key) replaces the row rather than duplicating it.
	Upsert(ctx context.Context, result Result) error

	// List returns one page of matching rows plus the total match count.
	List(ctx context.Context, jobID string, filter ResultFilter, offset, limit int) ([]Result, int, error)

	// ListAll returns every row for a job in item-key order.
	ListAll(ctx context.Context, jobID string) ([]Result, error)

	// Stats scans the job's rows into aggregate counts.
	Stats(ctx context.Context, jobID string) (JobStats, error)
}

// Catalog is the enumerator's data source: the site's publishable
// entities. Implementations read the platform's own database; the engine
// never touches the CRUD models directly.
type Catalog interface {
	Site(ctx context.Context, siteID string) (Site, error)
	Books(ctx context.Context, siteID string) ([]CatalogEntry, error)
	Authors(ctx context.Context, siteID string) ([]CatalogEntry, error)
	Genres(ctx context.Context, siteID string) ([]CatalogEntry, error)
}

// Enumerator produces the ordered, deduplicated work list for one job.
type Enumerator interface {
	Enumerate(ctx context.Context, siteID string, cfg JobConfig) ([]WorkItem, error)
}

// Visitor processes a single work item and reports its outcome.
// Per-item failures are expressed through Outcome.Failed, never by
// aborting the run.
type Visitor interface {
	Visit(ctx context.Context, site Site, item WorkItem) Outcome
}

// Publisher pushes job completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// BlobStore writes rendered artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and result IDs.
type IDGenerator interface {
	NewID() (string, error)
}
