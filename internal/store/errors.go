package store

import "errors"

// Common metadata store errors
var (
	// ErrNotFound indicates that the requested record does not exist
	ErrNotFound = errors.New("metadata record not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
