// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pagegrove/siteops/internal/siteops"
)

// JobStore keeps job rows in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]siteops.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]siteops.Job)}
}

// CreateJob stores a new job row.
func (s *JobStore) CreateJob(_ context.Context, job siteops.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (siteops.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return siteops.Job{}, siteops.ErrNotFound
	}
	return job, nil
}

// TransitionStatus performs the compare-and-set status move under the
// store lock, so concurrent callers serialize and exactly one wins.
func (s *JobStore) TransitionStatus(_ context.Context, jobID string, from, to siteops.JobStatus, errText string) (bool, error) {
	if !siteops.CanTransition(from, to) {
		return false, siteops.ErrIllegalTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, siteops.ErrNotFound
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.ErrorText = errText
	now := time.Now().UTC()
	if to == siteops.StatusRunning && job.Started == nil {
		job.Started = &now
	}
	if to.IsTerminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return true, nil
}

// SetTotal fixes the enumerated item count for a job.
func (s *JobStore) SetTotal(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return siteops.ErrNotFound
	}
	job.TotalItems = total
	s.jobs[jobID] = job
	return nil
}

// IncrementCounters adds to the success/failure counters under the lock.
func (s *JobStore) IncrementCounters(_ context.Context, jobID string, succeeded, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return siteops.ErrNotFound
	}
	job.Counters.Succeeded += succeeded
	job.Counters.Failed += failed
	s.jobs[jobID] = job
	return nil
}

// RequestCancel marks the persisted cancellation flag.
func (s *JobStore) RequestCancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return siteops.ErrNotFound
	}
	job.CancelRequested = true
	s.jobs[jobID] = job
	return nil
}
