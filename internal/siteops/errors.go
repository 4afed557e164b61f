package siteops

import "errors"

// Sentinel errors returned by the lifecycle manager and stores.
var (
	// ErrNotFound indicates the referenced job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrNotQueued indicates Start was called on a job not in Queued status.
	ErrNotQueued = errors.New("job not in queued status")

	// ErrTerminal indicates Cancel was called on a finished job.
	ErrTerminal = errors.New("job already in a terminal status")

	// ErrIllegalTransition indicates a status move the state machine forbids.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrInvalidConfig wraps every job configuration validation failure.
	ErrInvalidConfig = errors.New("invalid job config")
)
