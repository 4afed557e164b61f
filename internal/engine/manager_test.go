package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/id/uuid"
	"github.com/pagegrove/siteops/internal/siteops"
	"github.com/pagegrove/siteops/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// listEnumerator returns a fixed work list regardless of site or config.
type listEnumerator struct {
	items []siteops.WorkItem
	err   error
}

func (e *listEnumerator) Enumerate(context.Context, string, siteops.JobConfig) ([]siteops.WorkItem, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.items, nil
}

// funcVisitor adapts a function into a Visitor.
type funcVisitor func(ctx context.Context, site siteops.Site, item siteops.WorkItem) siteops.Outcome

func (f funcVisitor) Visit(ctx context.Context, site siteops.Site, item siteops.WorkItem) siteops.Outcome {
	return f(ctx, site, item)
}

// failingResultStore injects an upsert fault into a real store.
type failingResultStore struct {
	*memory.ResultStore
	err error
}

func (s *failingResultStore) Upsert(ctx context.Context, result siteops.Result) error {
	if s.err != nil {
		return s.err
	}
	return s.ResultStore.Upsert(ctx, result)
}

// capturingPublisher records completion events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *capturingPublisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evt, _ := payload.(map[string]any)
	p.events = append(p.events, evt)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type managerFixture struct {
	manager   *Manager
	jobs      *memory.JobStore
	results   *memory.ResultStore
	publisher *capturingPublisher
}

func makeItems(n int) []siteops.WorkItem {
	items := make([]siteops.WorkItem, 0, n)
	for i := range n {
		items = append(items, siteops.WorkItem{
			Key:      fmt.Sprintf("https://shelf.example.com/books/book-%03d", i),
			Category: siteops.CategoryBook,
		})
	}
	return items
}

func newFixture(t *testing.T, items []siteops.WorkItem, visitor siteops.Visitor) *managerFixture {
	t.Helper()
	return newFixtureWithStores(t, items, visitor, memory.NewJobStore(), memory.NewResultStore(), nil)
}

func newFixtureWithStores(
	t *testing.T,
	items []siteops.WorkItem,
	visitor siteops.Visitor,
	jobs *memory.JobStore,
	results *memory.ResultStore,
	resultStore siteops.ResultStore,
) *managerFixture {
	t.Helper()
	catalog := memory.NewCatalog()
	catalog.PutSite(siteops.Site{ID: "site-1", BaseURL: "https://shelf.example.com", DefaultLanguage: "en"})

	if resultStore == nil {
		resultStore = results
	}
	publisher := &capturingPublisher{}
	manager := NewManager(Deps{
		Jobs:        jobs,
		Results:     resultStore,
		Catalog:     catalog,
		Enumerators: map[siteops.JobKind]siteops.Enumerator{siteops.KindCrawl: &listEnumerator{items: items}},
		Visitors:    map[siteops.JobKind]siteops.Visitor{siteops.KindCrawl: visitor},
		Publisher:   publisher,
		Clock:       &fakeClock{now: time.Unix(1700000000, 0).UTC()},
		IDGen:       uuid.New(),
		Logger:      zap.NewNop(),
	})
	return &managerFixture{manager: manager, jobs: jobs, results: results, publisher: publisher}
}

func crawlCfg(concurrency int) siteops.JobConfig {
	return siteops.JobConfig{Crawl: &siteops.CrawlConfig{
		MaxItems:    10000,
		Concurrency: concurrency,
		Timeout:     5 * time.Second,
	}}
}

func okVisitor() siteops.Visitor {
	return funcVisitor(func(context.Context, siteops.Site, siteops.WorkItem) siteops.Outcome {
		return siteops.Outcome{StatusCode: 200, Title: "t"}
	})
}

func awaitStatus(t *testing.T, fx *managerFixture, jobID string, want siteops.JobStatus) siteops.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := fx.jobs.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	job, err := fx.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestManagerFullRunCompletes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, makeItems(120), okVisitor())
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(4))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusCompleted)
	require.Equal(t, 120, job.TotalItems)
	require.Equal(t, 120, job.Counters.Succeeded)
	require.Zero(t, job.Counters.Failed)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	rows, err := fx.results.ListAll(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, rows, 120)

	require.Eventually(t, func() bool { return fx.publisher.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManagerItemFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	visitor := funcVisitor(func(_ context.Context, _ siteops.Site, item siteops.WorkItem) siteops.Outcome {
		if item.Key == "https://shelf.example.com/books/book-003" {
			return siteops.Outcome{Failed: true, ErrorText: "dial tcp: connection refused"}
		}
		return siteops.Outcome{StatusCode: 200}
	})
	fx := newFixture(t, makeItems(10), visitor)
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(2))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusCompleted)
	require.Equal(t, 9, job.Counters.Succeeded)
	require.Equal(t, 1, job.Counters.Failed)
	require.Empty(t, job.ErrorText)
}

func TestManagerBadStatusIsStillASuccess(t *testing.T) {
	t.Parallel()

	// A 500 response is a recorded fetch, not an execution failure.
	visitor := funcVisitor(func(context.Context, siteops.Site, siteops.WorkItem) siteops.Outcome {
		return siteops.Outcome{StatusCode: 500}
	})
	fx := newFixture(t, makeItems(5), visitor)
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(2))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusCompleted)
	require.Equal(t, 5, job.Counters.Succeeded)
	require.Zero(t, job.Counters.Failed)

	stats, err := fx.results.Stats(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 5, stats.StatusBuckets["5xx"])
}

func TestManagerCreateRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, okVisitor())
	cfg := crawlCfg(0)

	_, err := fx.manager.Create(context.Background(), "site-1", siteops.KindCrawl, cfg)
	require.Error(t, err)
}

func TestManagerStartRequiresQueued(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, makeItems(3), okVisitor())
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(1))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))
	awaitStatus(t, fx, jobID, siteops.StatusCompleted)

	err = fx.manager.Start(ctx, jobID)
	require.ErrorIs(t, err, siteops.ErrNotQueued)

	job, err := fx.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, siteops.StatusCompleted, job.Status)
}

func TestManagerDoubleStartRunsOnce(t *testing.T) {
	t.Parallel()

	var visitTotal atomic.Int64
	visitor := funcVisitor(func(context.Context, siteops.Site, siteops.WorkItem) siteops.Outcome {
		visitTotal.Add(1)
		return siteops.Outcome{StatusCode: 200}
	})
	fx := newFixture(t, makeItems(50), visitor)
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(4))
	require.NoError(t, err)

	const starters = 8
	errs := make(chan error, starters)
	var wg sync.WaitGroup
	for range starters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fx.manager.Start(ctx, jobID)
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, siteops.ErrNotQueued)
		}
	}
	require.Equal(t, 1, won)

	job := awaitStatus(t, fx, jobID, siteops.StatusCompleted)
	require.Equal(t, 50, job.Counters.Succeeded)

	require.EqualValues(t, 50, visitTotal.Load(), "no item may be visited twice by a duplicate execution")
}

func TestManagerCancelQueuedJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, makeItems(10), okVisitor())
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(2))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Cancel(ctx, jobID))

	job, err := fx.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, siteops.StatusCancelled, job.Status)
	require.Zero(t, job.Counters.Processed())

	rows, err := fx.results.ListAll(ctx, jobID)
	require.NoError(t, err)
	require.Empty(t, rows)

	// Terminal jobs reject both Cancel and Start.
	require.ErrorIs(t, fx.manager.Cancel(ctx, jobID), siteops.ErrTerminal)
	require.ErrorIs(t, fx.manager.Start(ctx, jobID), siteops.ErrNotQueued)
}

func TestManagerCancelRunningJobBoundsOvershoot(t *testing.T) {
	t.Parallel()

	const (
		totalItems  = 120
		threshold   = 30
		concurrency = 4
	)

	var (
		mu      sync.Mutex
		calls   int
		reached = make(chan struct{})
		release = make(chan struct{})
	)
	visitor := funcVisitor(func(context.Context, siteops.Site, siteops.WorkItem) siteops.Outcome {
		mu.Lock()
		calls++
		n := calls
		if n == threshold {
			close(reached)
		}
		mu.Unlock()
		if n > threshold {
			<-release
		}
		return siteops.Outcome{StatusCode: 200}
	})

	fx := newFixture(t, makeItems(totalItems), visitor)
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(concurrency))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	<-reached
	require.NoError(t, fx.manager.Cancel(ctx, jobID))
	close(release)

	job := awaitStatus(t, fx, jobID, siteops.StatusCancelled)
	require.True(t, job.CancelRequested)

	processed := job.Counters.Processed()
	require.GreaterOrEqual(t, processed, threshold)
	require.LessOrEqual(t, processed, threshold+concurrency,
		"at most one in-flight item per worker may finish after a cancel request")

	rows, err := fx.results.ListAll(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, rows, processed)
}

func TestManagerEmptyEnumerationCompletesImmediately(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, okVisitor())
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(4))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusCompleted)
	require.Zero(t, job.TotalItems)
	require.Zero(t, job.Counters.Processed())
}

func TestManagerEngineFaultFailsJob(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	results := memory.NewResultStore()
	broken := &failingResultStore{ResultStore: results, err: errors.New("connection reset by peer")}
	fx := newFixtureWithStores(t, makeItems(10), okVisitor(), jobs, results, broken)
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(2))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusFailed)
	require.Contains(t, job.ErrorText, "connection reset by peer")
}

func TestManagerEnumerationFaultFailsJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, okVisitor())
	fx.manager.deps.Enumerators[siteops.KindCrawl] = &listEnumerator{err: errors.New("catalog unavailable")}
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(2))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	job := awaitStatus(t, fx, jobID, siteops.StatusFailed)
	require.Contains(t, job.ErrorText, "catalog unavailable")
}

func TestManagerPreview(t *testing.T) {
	t.Parallel()

	items := makeItems(7)
	items = append(items, siteops.WorkItem{Key: "https://shelf.example.com/authors/a", Category: siteops.CategoryAuthor})
	fx := newFixture(t, items, okVisitor())

	preview, err := fx.manager.Preview(context.Background(), "site-1", siteops.KindCrawl, crawlCfg(4))
	require.NoError(t, err)
	require.Equal(t, 8, preview.Total)
	require.Equal(t, 7, preview.ByCategory[siteops.CategoryBook])
	require.Equal(t, 1, preview.ByCategory[siteops.CategoryAuthor])
}

func TestManagerDrain(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, makeItems(20), okVisitor())
	ctx := context.Background()

	jobID, err := fx.manager.Create(ctx, "site-1", siteops.KindCrawl, crawlCfg(4))
	require.NoError(t, err)
	require.NoError(t, fx.manager.Start(ctx, jobID))

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fx.manager.Drain(drainCtx))

	job, err := fx.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.True(t, job.Status.IsTerminal())
}
