package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagegrove/siteops/internal/siteops"
)

func newMockResultStore(t *testing.T) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewResultStore(mock)
	require.NoError(t, err)
	return store, mock
}

func resultCols() []string {
	return []string{
		"id", "job_id", "item_key", "category", "succeeded", "status_code", "content_type",
		"byte_size", "title", "meta_description", "h1", "canonical", "robots",
		"render_millis", "blob_uri", "error_text", "processed_at",
	}
}

func TestUpsertResult(t *testing.T) {
	t.Parallel()

	store, mock := newMockResultStore(t)
	processed := time.Unix(1700000000, 0).UTC()

	result := siteops.Result{
		ID:          "res-1",
		JobID:       "job-1",
		ItemKey:     "https://shelf.example.com/books/dune",
		Category:    siteops.CategoryBook,
		Succeeded:   true,
		StatusCode:  200,
		ContentType: "text/html",
		ByteSize:    2048,
		Title:       "Dune",
		ProcessedAt: processed,
	}

	mock.ExpectExec("INSERT INTO siteops_results").
		WithArgs(
			"res-1", "job-1", "https://shelf.example.com/books/dune", "book",
			true, 200, "text/html", 2048, "Dune", "", "", "", "",
			int64(0), "", "", processed,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesFilterAndPaging(t *testing.T) {
	t.Parallel()

	store, mock := newMockResultStore(t)
	processed := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT count\(\*\) FROM siteops_results`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT(.|\n)*FROM siteops_results WHERE job_id(.|\n)*ORDER BY item_key LIMIT").
		WithArgs("job-1", 2, 1).
		WillReturnRows(pgxmock.NewRows(resultCols()).
			AddRow("res-2", "job-1", "https://s/2", "book", false, 0, "", 0,
				"", "", "", "", "", int64(0), "", "dial tcp: timeout", processed).
			AddRow("res-3", "job-1", "https://s/3", "book", true, 404, "text/html", 100,
				"", "", "", "", "", int64(0), "", "", processed))

	results, total, err := store.List(context.Background(), "job-1", siteops.ResultFilter{MissingTitle: true}, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, results, 2)
	require.Equal(t, "https://s/2", results[0].ItemKey)
	require.False(t, results[0].Succeeded)
	require.Equal(t, 404, results[1].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildFilterCombinesClausesWithAND(t *testing.T) {
	t.Parallel()

	category := siteops.CategoryBook
	succeeded := true
	filter := siteops.ResultFilter{
		Category:     &category,
		StatusBucket: "4xx",
		Succeeded:    &succeeded,
		MissingTitle: true,
	}

	where, args := buildFilter("job-1", filter)
	require.Equal(t,
		"job_id = $1 AND category = $2 AND succeeded = $3 AND status_code BETWEEN 400 AND 499 AND title = ''",
		where,
	)
	require.Equal(t, []any{"job-1", "book", true}, args)
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()

	store, mock := newMockResultStore(t)

	scalarCols := []string{
		"total", "succeeded", "failed", "b2", "b3", "b4", "b5",
		"missing_title", "missing_description", "missing_h1",
	}
	mock.ExpectQuery(`SELECT\s+count\(\*\)`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(scalarCols).AddRow(120, 117, 3, 100, 5, 12, 0, 7, 30, 2))
	mock.ExpectQuery("SELECT category").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"category", "count"}).
			AddRow("book", 100).
			AddRow("author", 15).
			AddRow("static", 5))

	stats, err := store.Stats(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 120, stats.Total)
	require.Equal(t, 117, stats.Succeeded)
	require.Equal(t, 3, stats.Failed)
	require.Equal(t, 100, stats.StatusBuckets["2xx"])
	require.Equal(t, 12, stats.StatusBuckets["4xx"])
	require.NotContains(t, stats.StatusBuckets, "5xx")
	require.Equal(t, 7, stats.MissingTitle)
	require.Equal(t, 100, stats.ByCategory[siteops.CategoryBook])
	require.Equal(t, 5, stats.ByCategory[siteops.CategoryStatic])
	require.NoError(t, mock.ExpectationsWereMet())
}
