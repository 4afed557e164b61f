package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagegrove/siteops/internal/siteops"
)

func newMockJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()

	job := siteops.Job{
		ID:     "job-1",
		SiteID: "site-1",
		Kind:   siteops.KindCrawl,
		Config: siteops.JobConfig{Crawl: &siteops.CrawlConfig{
			MaxItems:    500,
			Concurrency: 4,
			Timeout:     10 * time.Second,
		}},
		Status:  siteops.StatusQueued,
		Created: created,
	}

	mock.ExpectExec("INSERT INTO siteops_jobs").
		WithArgs(
			"job-1",
			"site-1",
			"crawl",
			[]byte(`{"crawl":{"max_items":500,"concurrency":4,"delay":0,"timeout":10000000000}}`),
			"queued",
			false,
			0,
			0,
			0,
			"",
			created,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectQuery("SELECT id, site_id, kind").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, siteops.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)

	cols := []string{
		"id", "site_id", "kind", "config", "status", "cancel_requested",
		"total_items", "succeeded", "failed", "error_text", "created_at", "started_at", "finished_at",
	}
	mock.ExpectQuery("SELECT id, site_id, kind").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"job-1", "site-1", "crawl",
			[]byte(`{"crawl":{"max_items":500,"concurrency":4,"delay":0,"timeout":10000000000}}`),
			"running", false, 500, 12, 3, "", created, &started, (*time.Time)(nil),
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, siteops.KindCrawl, job.Kind)
	require.Equal(t, siteops.StatusRunning, job.Status)
	require.NotNil(t, job.Config.Crawl)
	require.Equal(t, 4, job.Config.Crawl.Concurrency)
	require.Equal(t, 12, job.Counters.Succeeded)
	require.Equal(t, 3, job.Counters.Failed)
	require.NotNil(t, job.Started)
	require.Nil(t, job.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusWins(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE siteops_jobs SET").
		WithArgs("job-1", "queued", "running", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.TransitionStatus(context.Background(), "job-1", siteops.StatusQueued, siteops.StatusRunning, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusLosesRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE siteops_jobs SET").
		WithArgs("job-1", "queued", "running", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.TransitionStatus(context.Background(), "job-1", siteops.StatusQueued, siteops.StatusRunning, "")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE siteops_jobs SET").
		WithArgs("ghost", "queued", "running", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.TransitionStatus(context.Background(), "ghost", siteops.StatusQueued, siteops.StatusRunning, "")
	require.ErrorIs(t, err, siteops.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	// Validated before touching the database, so no expectations.
	store, mock := newMockJobStore(t)
	_, err := store.TransitionStatus(context.Background(), "job-1", siteops.StatusCompleted, siteops.StatusRunning, "")
	require.ErrorIs(t, err, siteops.ErrIllegalTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE siteops_jobs SET succeeded").
		WithArgs("job-1", 1, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.IncrementCounters(context.Background(), "job-1", 1, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestCancelMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE siteops_jobs SET cancel_requested").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.RequestCancel(context.Background(), "ghost")
	require.ErrorIs(t, err, siteops.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
