// Package engine implements the job lifecycle manager and the bounded
// executor that drives visitors over enumerated work lists.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/enumerate"
	"github.com/pagegrove/siteops/internal/metrics"
	"github.com/pagegrove/siteops/internal/siteops"
)

// Deps bundles the collaborators the Manager is wired with.
type Deps struct {
	Jobs        siteops.JobStore
	Results     siteops.ResultStore
	Catalog     siteops.Catalog
	Enumerators map[siteops.JobKind]siteops.Enumerator
	Visitors    map[siteops.JobKind]siteops.Visitor
	Publisher   siteops.Publisher
	Clock       siteops.Clock
	IDGen       siteops.IDGenerator
	Logger      *zap.Logger

	// BaseContext parents every background run, decoupling execution
	// from the request that triggered Start. Defaults to
	// context.Background().
	BaseContext context.Context
}

// Manager owns the job state machine. All status moves go through the
// store's compare-and-set, so a single engine instance is the only
// writer for a job it started. There is no lease or heartbeat: a process
// crash mid-run leaves the job in Running.
type Manager struct {
	deps     Deps
	executor *Executor
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]*atomic.Bool

	runs sync.WaitGroup
}

// NewManager constructs a Manager and its executor.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	metrics.Init()
	recorder := NewRecorder(deps.Results, deps.Jobs, deps.Clock, deps.IDGen, deps.Logger)
	return &Manager{
		deps:     deps,
		executor: NewExecutor(recorder, deps.Logger),
		logger:   deps.Logger,
		cancels:  make(map[string]*atomic.Bool),
	}
}

// Preview enumerates without doing any work and returns the counts a run
// with the same config would produce against the current catalog.
func (m *Manager) Preview(ctx context.Context, siteID string, kind siteops.JobKind, cfg siteops.JobConfig) (siteops.Preview, error) {
	if err := siteops.ValidateConfig(kind, cfg); err != nil {
		return siteops.Preview{}, err
	}
	enum, ok := m.deps.Enumerators[kind]
	if !ok {
		return siteops.Preview{}, fmt.Errorf("no enumerator registered for kind %q", kind)
	}
	return enumerate.Preview(ctx, enum, siteID, cfg)
}

// Create validates the configuration and persists a Queued job. Invalid
// configuration fails synchronously with nothing persisted.
func (m *Manager) Create(ctx context.Context, siteID string, kind siteops.JobKind, cfg siteops.JobConfig) (string, error) {
	if err := siteops.ValidateConfig(kind, cfg); err != nil {
		return "", err
	}
	if _, ok := m.deps.Enumerators[kind]; !ok {
		return "", fmt.Errorf("no enumerator registered for kind %q", kind)
	}
	if _, ok := m.deps.Visitors[kind]; !ok {
		return "", fmt.Errorf("no visitor registered for kind %q", kind)
	}

	jobID, err := m.deps.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := siteops.Job{
		ID:      jobID,
		SiteID:  siteID,
		Kind:    kind,
		Config:  cfg,
		Status:  siteops.StatusQueued,
		Created: m.deps.Clock.Now(),
	}
	if err := m.deps.Jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	m.logger.Info("job created",
		zap.String("job_id", jobID),
		zap.String("site_id", siteID),
		zap.String("kind", string(kind)),
	)
	return jobID, nil
}

// Start moves a Queued job to Running via compare-and-set and launches
// the executor in the background. Exactly one of any number of
// concurrent Start calls wins; the rest get ErrNotQueued and no side
// effect. Start returns as soon as the run is launched.
func (m *Manager) Start(ctx context.Context, jobID string) error {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != siteops.StatusQueued {
		return fmt.Errorf("start job %s in status %s: %w", jobID, job.Status, siteops.ErrNotQueued)
	}

	// The flag is registered before the CAS so a Cancel that loses the
	// Queued->Cancelled race always finds it.
	flag := m.cancelFlag(jobID)

	ok, err := m.deps.Jobs.TransitionStatus(ctx, jobID, siteops.StatusQueued, siteops.StatusRunning, "")
	if err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}
	if !ok {
		return fmt.Errorf("start job %s: %w", jobID, siteops.ErrNotQueued)
	}

	job.Status = siteops.StatusRunning
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		m.run(job, flag)
	}()

	m.logger.Info("job started", zap.String("job_id", jobID), zap.String("kind", string(job.Kind)))
	return nil
}

// Cancel requests cancellation. A Queued job goes straight to Cancelled
// with zero items processed; a Running job gets its cooperative flag set
// and the executor performs the final transition once in-flight items
// drain. Cancelling a terminal job is rejected.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("cancel job %s in status %s: %w", jobID, job.Status, siteops.ErrTerminal)
	}

	if job.Status == siteops.StatusQueued {
		ok, err := m.deps.Jobs.TransitionStatus(ctx, jobID, siteops.StatusQueued, siteops.StatusCancelled, "cancelled before start")
		if err != nil {
			return fmt.Errorf("transition to cancelled: %w", err)
		}
		if ok {
			m.observeTerminal(ctx, jobID, siteops.StatusCancelled)
			return nil
		}
		// Lost the race against Start; fall through to the running path.
	}

	if err := m.deps.Jobs.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	m.cancelFlag(jobID).Store(true)
	m.logger.Info("job cancellation requested", zap.String("job_id", jobID))
	return nil
}

// cancelFlag returns the job's cooperative cancellation flag, creating
// it on first use.
func (m *Manager) cancelFlag(jobID string) *atomic.Bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	flag, ok := m.cancels[jobID]
	if !ok {
		flag = &atomic.Bool{}
		m.cancels[jobID] = flag
	}
	return flag
}

// GetJob returns the current job snapshot.
func (m *Manager) GetJob(ctx context.Context, jobID string) (siteops.Job, error) {
	return m.deps.Jobs.GetJob(ctx, jobID)
}

// Drain blocks until all in-flight runs finish or the context expires.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain runs: %w", ctx.Err())
	}
}

// run executes one job to a terminal state. It owns every transition out
// of Running. Item failures are absorbed by the recorder; only faults of
// the engine itself reach the Failed path.
func (m *Manager) run(job siteops.Job, cancelled *atomic.Bool) {
	ctx := m.deps.BaseContext
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("engine panic", zap.String("job_id", job.ID), zap.Any("panic", rec))
			m.finalize(ctx, job, siteops.StatusFailed, fmt.Sprintf("engine panic: %v", rec))
		}
	}()

	enum := m.deps.Enumerators[job.Kind]
	visitor := m.deps.Visitors[job.Kind]

	site, err := m.deps.Catalog.Site(ctx, job.SiteID)
	if err != nil {
		m.finalize(ctx, job, siteops.StatusFailed, fmt.Sprintf("load site: %v", err))
		return
	}

	items, err := enum.Enumerate(ctx, job.SiteID, job.Config)
	if err != nil {
		m.finalize(ctx, job, siteops.StatusFailed, fmt.Sprintf("enumerate items: %v", err))
		return
	}
	if err := m.deps.Jobs.SetTotal(ctx, job.ID, len(items)); err != nil {
		m.finalize(ctx, job, siteops.StatusFailed, fmt.Sprintf("set total: %v", err))
		return
	}
	job.TotalItems = len(items)

	// An empty catalog is not an error: the run completes immediately.
	if len(items) == 0 {
		m.finalize(ctx, job, siteops.StatusCompleted, "")
		return
	}

	if err := m.executor.Run(ctx, job, site, items, visitor, cancelled); err != nil {
		m.finalize(ctx, job, siteops.StatusFailed, err.Error())
		return
	}

	if cancelled.Load() {
		m.finalize(ctx, job, siteops.StatusCancelled, "")
		return
	}
	m.finalize(ctx, job, siteops.StatusCompleted, "")
}

func (m *Manager) finalize(ctx context.Context, job siteops.Job, to siteops.JobStatus, errText string) {
	ok, err := m.deps.Jobs.TransitionStatus(ctx, job.ID, siteops.StatusRunning, to, errText)
	if err != nil || !ok {
		m.logger.Error("finalize transition failed",
			zap.String("job_id", job.ID),
			zap.String("to", string(to)),
			zap.Bool("applied", ok),
			zap.Error(err),
		)
		return
	}
	m.mu.Lock()
	delete(m.cancels, job.ID)
	m.mu.Unlock()

	m.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("status", string(to)),
	)
	m.observeTerminal(ctx, job.ID, to)
}

// observeTerminal reports metrics and publishes the completion event for
// a job that just reached a terminal state. Publishing is best-effort.
func (m *Manager) observeTerminal(ctx context.Context, jobID string, to siteops.JobStatus) {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn("load finished job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Kind), string(to))

	if m.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    job.ID,
		"site_id":   job.SiteID,
		"kind":      string(job.Kind),
		"status":    string(to),
		"total":     job.TotalItems,
		"succeeded": job.Counters.Succeeded,
		"failed":    job.Counters.Failed,
	}
	if _, err := m.deps.Publisher.Publish(ctx, payload); err != nil {
		m.logger.Warn("publish completion event", zap.String("job_id", jobID), zap.Error(err))
	}
}
