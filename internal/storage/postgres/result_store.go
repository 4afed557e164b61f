package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagegrove/siteops/internal/siteops"
)

// ResultStore persists result rows in the siteops_results table, unique
// on (job_id, item_key).
type ResultStore struct {
	pool dbPool
}

// NewResultStore constructs a ResultStore over an existing pool.
func NewResultStore(pool dbPool) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const resultColumns = `
	id, job_id, item_key, category, succeeded, status_code, content_type,
	byte_size, title, meta_description, h1, canonical, robots,
	render_millis, blob_uri, error_text, processed_at`

// Upsert inserts or replaces the row for (job_id, item_key). A replay
// overwrites the outcome fields and keeps the original row id.
func (s *ResultStore) Upsert(ctx context.Context, result siteops.Result) error {
	query := `
INSERT INTO siteops_results (` + resultColumns + `
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (job_id, item_key) DO UPDATE SET
	category = EXCLUDED.category,
	succeeded = EXCLUDED.succeeded,
	status_code = EXCLUDED.status_code,
	content_type = EXCLUDED.content_type,
	byte_size = EXCLUDED.byte_size,
	title = EXCLUDED.title,
	meta_description = EXCLUDED.meta_description,
	h1 = EXCLUDED.h1,
	canonical = EXCLUDED.canonical,
	robots = EXCLUDED.robots,
	render_millis = EXCLUDED.render_millis,
	blob_uri = EXCLUDED.blob_uri,
	error_text = EXCLUDED.error_text,
	processed_at = EXCLUDED.processed_at`
	_, err := s.pool.Exec(ctx, query,
		result.ID,
		result.JobID,
		result.ItemKey,
		string(result.Category),
		result.Succeeded,
		result.StatusCode,
		result.ContentType,
		result.ByteSize,
		result.Title,
		result.MetaDescription,
		result.H1,
		result.Canonical,
		result.Robots,
		result.RenderMillis,
		result.BlobURI,
		result.ErrorText,
		result.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// List returns one filtered page ordered by item key, plus the filtered
// total. A limit of zero or less disables paging.
func (s *ResultStore) List(ctx context.Context, jobID string, filter siteops.ResultFilter, offset, limit int) ([]siteops.Result, int, error) {
	where, args := buildFilter(jobID, filter)

	var total int
	countQuery := `SELECT count(*) FROM siteops_results WHERE ` + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	query := `SELECT` + resultColumns + ` FROM siteops_results WHERE ` + where + ` ORDER BY item_key`
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	var results []siteops.Result
	for rows.Next() {
		var (
			r        siteops.Result
			category string
		)
		err := rows.Scan(
			&r.ID,
			&r.JobID,
			&r.ItemKey,
			&category,
			&r.Succeeded,
			&r.StatusCode,
			&r.ContentType,
			&r.ByteSize,
			&r.Title,
			&r.MetaDescription,
			&r.H1,
			&r.Canonical,
			&r.Robots,
			&r.RenderMillis,
			&r.BlobURI,
			&r.ErrorText,
			&r.ProcessedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan result row: %w", err)
		}
		r.Category = siteops.Category(category)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate result rows: %w", err)
	}
	return results, total, nil
}

// ListAll returns every result row for the job ordered by item key.
func (s *ResultStore) ListAll(ctx context.Context, jobID string) ([]siteops.Result, error) {
	results, _, err := s.List(ctx, jobID, siteops.ResultFilter{}, 0, 0)
	return results, err
}

// Stats computes the aggregate view in two queries: one for the scalar
// counts and one for the per-category breakdown.
func (s *ResultStore) Stats(ctx context.Context, jobID string) (siteops.JobStats, error) {
	stats := siteops.JobStats{
		StatusBuckets: make(map[string]int),
		ByCategory:    make(map[siteops.Category]int),
	}

	scalarQuery := `
SELECT
	count(*),
	count(*) FILTER (WHERE succeeded),
	count(*) FILTER (WHERE NOT succeeded),
	count(*) FILTER (WHERE status_code BETWEEN 200 AND 299),
	count(*) FILTER (WHERE status_code BETWEEN 300 AND 399),
	count(*) FILTER (WHERE status_code BETWEEN 400 AND 499),
	count(*) FILTER (WHERE status_code BETWEEN 500 AND 599),
	count(*) FILTER (WHERE title = ''),
	count(*) FILTER (WHERE meta_description = ''),
	count(*) FILTER (WHERE h1 = '')
FROM siteops_results WHERE job_id = $1`

	var b2, b3, b4, b5 int
	err := s.pool.QueryRow(ctx, scalarQuery, jobID).Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Failed,
		&b2, &b3, &b4, &b5,
		&stats.MissingTitle,
		&stats.MissingDescription,
		&stats.MissingH1,
	)
	if err != nil {
		return siteops.JobStats{}, fmt.Errorf("aggregate results: %w", err)
	}
	for bucket, n := range map[string]int{"2xx": b2, "3xx": b3, "4xx": b4, "5xx": b5} {
		if n > 0 {
			stats.StatusBuckets[bucket] = n
		}
	}

	rows, err := s.pool.Query(ctx, `SELECT category, count(*) FROM siteops_results WHERE job_id = $1 GROUP BY category`, jobID)
	if err != nil {
		return siteops.JobStats{}, fmt.Errorf("aggregate categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return siteops.JobStats{}, fmt.Errorf("scan category row: %w", err)
		}
		stats.ByCategory[siteops.Category(category)] = n
	}
	if err := rows.Err(); err != nil {
		return siteops.JobStats{}, fmt.Errorf("iterate category rows: %w", err)
	}
	return stats, nil
}

// buildFilter renders the AND-combined WHERE clause for a result filter.
func buildFilter(jobID string, filter siteops.ResultFilter) (string, []any) {
	clauses := []string{"job_id = $1"}
	args := []any{jobID}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != nil {
		clauses = append(clauses, "category = "+arg(string(*filter.Category)))
	}
	if filter.Succeeded != nil {
		clauses = append(clauses, "succeeded = "+arg(*filter.Succeeded))
	}
	switch filter.StatusBucket {
	case "2xx":
		clauses = append(clauses, "status_code BETWEEN 200 AND 299")
	case "3xx":
		clauses = append(clauses, "status_code BETWEEN 300 AND 399")
	case "4xx":
		clauses = append(clauses, "status_code BETWEEN 400 AND 499")
	case "5xx":
		clauses = append(clauses, "status_code BETWEEN 500 AND 599")
	}
	if filter.MissingTitle {
		clauses = append(clauses, "title = ''")
	}
	if filter.MissingDescription {
		clauses = append(clauses, "meta_description = ''")
	}
	if filter.MissingH1 {
		clauses = append(clauses, "h1 = ''")
	}
	return strings.Join(clauses, " AND "), args
}
