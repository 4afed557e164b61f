package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pagegrove/siteops/internal/siteops"
)

// ResultStore keeps result rows keyed by (job ID, item key), so an
// upsert can never produce a duplicate row.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]map[string]siteops.Result
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]map[string]siteops.Result)}
}

// Upsert writes a result row, replacing any prior row for the same item.
func (s *ResultStore) Upsert(_ context.Context, result siteops.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.results[result.JobID]
	if !ok {
		rows = make(map[string]siteops.Result)
		s.results[result.JobID] = rows
	}
	if prior, exists := rows[result.ItemKey]; exists {
		result.ID = prior.ID
	}
	rows[result.ItemKey] = result
	return nil
}

// List returns one page of matching rows plus the total match count.
func (s *ResultStore) List(_ context.Context, jobID string, filter siteops.ResultFilter, offset, limit int) ([]siteops.Result, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []siteops.Result
	for _, row := range s.results[jobID] {
		if filter.Matches(row) {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ItemKey < matched[j].ItemKey })

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]siteops.Result, end-offset)
	copy(page, matched[offset:end])
	return page, total, nil
}

// ListAll returns every row for a job in item-key order.
func (s *ResultStore) ListAll(_ context.Context, jobID string) ([]siteops.Result, error) {
	rows, _, err := s.List(context.Background(), jobID, siteops.ResultFilter{}, 0, 0)
	return rows, err
}

// Stats scans the job's rows into aggregate counts.
func (s *ResultStore) Stats(_ context.Context, jobID string) (siteops.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := siteops.JobStats{
		StatusBuckets: make(map[string]int),
		ByCategory:    make(map[siteops.Category]int),
	}
	for _, row := range s.results[jobID] {
		stats.Total++
		if row.Succeeded {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if bucket := siteops.StatusBucketOf(row.StatusCode); bucket != "" {
			stats.StatusBuckets[bucket]++
		}
		if row.Title == "" {
			stats.MissingTitle++
		}
		if row.MetaDescription == "" {
			stats.MissingDescription++
		}
		if row.H1 == "" {
			stats.MissingH1++
		}
		stats.ByCategory[row.Category]++
	}
	return stats, nil
}
