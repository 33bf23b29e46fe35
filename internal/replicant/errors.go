package replicant

import "errors"

// Common facade errors
var (
	// ErrNotRunning indicates that the replica is not started or already stopped
	ErrNotRunning = errors.New("replicant is not running")

	// ErrPollNotFound indicates that the requested poll is unknown
	ErrPollNotFound = errors.New("poll not found")

	// ErrMalformedDelta indicates a remote delta that cannot be merged
	ErrMalformedDelta = errors.New("malformed delta")
)
