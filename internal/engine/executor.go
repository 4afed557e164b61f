package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagegrove/siteops/internal/metrics"
	"github.com/pagegrove/siteops/internal/siteops"
)

// Executor runs the visitor over an enumerated item list with a fixed
// worker pool. Cancellation is cooperative: workers check the flag
// before claiming a new item and let in-flight visits finish, so at
// most one extra item per worker is processed after a cancel request.
type Executor struct {
	recorder *Recorder
	logger   *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(recorder *Recorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{recorder: recorder, logger: logger}
}

// Run processes items and blocks until the pool drains. It returns nil
// on exhaustion or cooperative cancellation; a non-nil error is an
// engine-level fault and the caller must fail the job. Item-level
// visitor failures are recorded and never surface here.
func (e *Executor) Run(
	ctx context.Context,
	job siteops.Job,
	site siteops.Site,
	items []siteops.WorkItem,
	visitor siteops.Visitor,
	cancelled *atomic.Bool,
) error {
	workers := job.Config.Concurrency()
	if workers < 1 {
		return fmt.Errorf("job %s has no configured concurrency", job.ID)
	}

	var limiter *rate.Limiter
	if job.Config.Crawl != nil && job.Config.Crawl.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(job.Config.Crawl.Delay), 1)
	}

	var (
		next    atomic.Int64
		wg      sync.WaitGroup
		faultCh = make(chan error, workers)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx, job, site, items, visitor, cancelled, limiter, &next, faultCh)
		}()
	}
	wg.Wait()

	select {
	case err := <-faultCh:
		return err
	default:
		return nil
	}
}

func (e *Executor) workerLoop(
	ctx context.Context,
	job siteops.Job,
	site siteops.Site,
	items []siteops.WorkItem,
	visitor siteops.Visitor,
	cancelled *atomic.Bool,
	limiter *rate.Limiter,
	next *atomic.Int64,
	faultCh chan<- error,
) {
	for {
		if cancelled.Load() || ctx.Err() != nil {
			return
		}
		idx := next.Add(1) - 1
		if idx >= int64(len(items)) {
			return
		}
		item := items[idx]

		if limiter != nil {
			waitStart := time.Now()
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			metrics.ObservePolitenessWait(time.Since(waitStart))
		}

		outcome := e.visit(ctx, job, site, item, visitor)
		if err := e.recorder.Record(ctx, job, item, outcome); err != nil {
			e.logger.Error("record result failed",
				zap.String("job_id", job.ID),
				zap.String("item_key", item.Key),
				zap.Error(err),
			)
			select {
			case faultCh <- err:
			default:
			}
			return
		}
	}
}

// visit invokes the visitor under the per-item timeout. A panic inside a
// visitor is attributable to that one item, so it becomes a failed
// outcome rather than an engine fault.
func (e *Executor) visit(
	ctx context.Context,
	job siteops.Job,
	site siteops.Site,
	item siteops.WorkItem,
	visitor siteops.Visitor,
) (outcome siteops.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("visitor panicked",
				zap.String("job_id", job.ID),
				zap.String("item_key", item.Key),
				zap.Any("panic", rec),
			)
			outcome = siteops.Outcome{Failed: true, ErrorText: fmt.Sprintf("visitor panic: %v", rec)}
		}
	}()

	itemCtx := ctx
	if timeout := job.Config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	outcome = visitor.Visit(itemCtx, site, item)
	metrics.ObserveItem(string(job.Kind), outcome.Failed, time.Since(start))
	return outcome
}
