package domain

import "errors"

var (
	// ErrLoginRequired signals that no usable session exists and the user
	// must complete the SMS login flow before issuing creative commands.
	ErrLoginRequired = errors.New("login required")

	// ErrUnauthorized is returned when the upstream service rejects the
	// current credential (401/403-equivalent). It flips the global
	// needs-login flag at the session layer.
	ErrUnauthorized = errors.New("credential rejected")

	ErrServiceBusy     = errors.New("service busy")
	ErrServiceRejected = errors.New("service rejected request")

	// ErrJobRejected marks a task the service silently dropped, detected by
	// the two-consecutive-zero-progress heuristic. Not retryable.
	ErrJobRejected = errors.New("job likely rejected")

	// ErrPollTimeout is returned when the polling budget is exhausted
	// without a terminal status. The job is abandoned.
	ErrPollTimeout = errors.New("poll budget exhausted")

	ErrNotFound = errors.New("not found")
)
