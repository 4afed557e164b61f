// Package siteops defines the core types shared across the bulk
// site-operation job engine.
package siteops

import "time"

// JobKind identifies which bulk operation a job performs.
type JobKind string

// Job kinds persisted in the job store.
const (
	KindCrawl   JobKind = "crawl"
	KindRebuild JobKind = "rebuild"
)

// RebuildMode selects how a rebuild job scopes its routes.
type RebuildMode string

// Rebuild modes accepted at job creation.
const (
	RebuildFull        RebuildMode = "full"
	RebuildIncremental RebuildMode = "incremental"
	RebuildSpecific    RebuildMode = "specific"
)

// Category tags a work item by the kind of catalog entity it covers.
type Category string

// Work item categories used for stats breakdowns and filters.
const (
	CategoryBook   Category = "book"
	CategoryAuthor Category = "author"
	CategoryGenre  Category = "genre"
	CategoryStatic Category = "static"
)

// CrawlConfig is the immutable configuration for a crawl job.
type CrawlConfig struct {
	MaxItems    int           `json:"max_items"`
	Concurrency int           `json:"concurrency"`
	Delay       time.Duration `json:"delay"`
	Timeout     time.Duration `json:"timeout"`
}

// RebuildConfig is the immutable configuration for a rebuild job.
type RebuildConfig struct {
	Mode        RebuildMode   `json:"mode"`
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"timeout"`
	BookSlugs   []string      `json:"book_slugs,omitempty"`
	AuthorSlugs []string      `json:"author_slugs,omitempty"`
	GenreSlugs  []string      `json:"genre_slugs,omitempty"`
}

// JobConfig carries the kind-specific configuration for one job. Exactly
// one of Crawl or Rebuild is set, matching the job's kind.
type JobConfig struct {
	Crawl   *CrawlConfig   `json:"crawl,omitempty"`
	Rebuild *RebuildConfig `json:"rebuild,omitempty"`
}

// Concurrency returns the configured worker count regardless of kind.
func (c JobConfig) Concurrency() int {
	switch {
	case c.Crawl != nil:
		return c.Crawl.Concurrency
	case c.Rebuild != nil:
		return c.Rebuild.Concurrency
	default:
		return 0
	}
}

// Timeout returns the per-item timeout regardless of kind.
func (c JobConfig) Timeout() time.Duration {
	switch {
	case c.Crawl != nil:
		return c.Crawl.Timeout
	case c.Rebuild != nil:
		return c.Rebuild.Timeout
	default:
		return 0
	}
}

// Counters tracks per-job success/failure totals.
type Counters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Processed returns the number of items attempted so far.
func (c Counters) Processed() int {
	return c.Succeeded + c.Failed
}

// Job is the metadata persisted for each bulk operation.
type Job struct {
	ID              string     `json:"id"`
	SiteID          string     `json:"site_id"`
	Kind            JobKind    `json:"kind"`
	Config          JobConfig  `json:"config"`
	Status          JobStatus  `json:"status"`
	CancelRequested bool       `json:"cancel_requested"`
	TotalItems      int        `json:"total_items"`
	Counters        Counters   `json:"counters"`
	ErrorText       string     `json:"error_text,omitempty"`
	Created         time.Time  `json:"created_at"`
	Started         *time.Time `json:"started_at,omitempty"`
	Finished        *time.Time `json:"finished_at,omitempty"`
}

// WorkItem is the enumerator's transient output unit. It is never
// persisted; it only flows from the enumerator into the executor.
type WorkItem struct {
	Key      string
	Category Category
	Lang     string
}

// Outcome is what a visitor reports for one work item.
type Outcome struct {
	// Failed marks an execution failure: a transport error for crawl
	// work, a render error for rebuild work. A fetched page with a bad
	// status code is not a failure.
	Failed    bool
	ErrorText string

	// Crawl fields.
	StatusCode      int
	ContentType     string
	ByteSize        int
	Title           string
	MetaDescription string
	H1              string
	Canonical       string
	Robots          string

	// Rebuild fields.
	RenderMillis int64
	BlobURI      string
}

// Result is the persisted outcome of processing one work item within one
// job. Uniqueness on (JobID, ItemKey) is enforced by the result store.
type Result struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	ItemKey         string    `json:"item_key"`
	Category        Category  `json:"category"`
	Succeeded       bool      `json:"succeeded"`
	StatusCode      int       `json:"status_code,omitempty"`
	ContentType     string    `json:"content_type,omitempty"`
	ByteSize        int       `json:"byte_size,omitempty"`
	Title           string    `json:"title,omitempty"`
	MetaDescription string    `json:"meta_description,omitempty"`
	H1              string    `json:"h1,omitempty"`
	Canonical       string    `json:"canonical,omitempty"`
	Robots          string    `json:"robots,omitempty"`
	RenderMillis    int64     `json:"render_ms,omitempty"`
	BlobURI         string    `json:"blob_uri,omitempty"`
	ErrorText       string    `json:"error_text,omitempty"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Preview is the counts-only answer returned before a job is created.
type Preview struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
}

// Site holds the catalog-level facts the enumerators need.
type Site struct {
	ID              string
	BaseURL         string
	DefaultLanguage string
	LastRebuiltAt   *time.Time
}

// CatalogEntry is one indexable entity exposed by a site's catalog.
type CatalogEntry struct {
	Slug      string
	Indexable bool
	Language  string
	UpdatedAt time.Time
}
