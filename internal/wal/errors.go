package wal

import "errors"

// Common WAL errors
var (
	// ErrClosed indicates that the log was already closed
	ErrClosed = errors.New("wal is closed")

	// ErrCorruptRecord indicates a record that failed checksum or framing
	ErrCorruptRecord = errors.New("corrupt wal record")
)
