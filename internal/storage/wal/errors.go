package wal

// ============================================================================
// WAL Error Definitions
// Purpose: Define all WAL-related error types
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrWALClosed indicates WAL is closed, cannot perform operation.
	ErrWALClosed = errors.New("wal: already closed")

	// ErrSyncFailed indicates fsync failed (critical error).
	ErrSyncFailed = errors.New("wal: sync to disk failed")
)

// AppendError wraps a failure from the batch writer with the record that
// failed, so callers can log which command/key hit the disk error.
type AppendError struct {
	Command string
	Key     string
	Cause   error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("wal: append %s %q failed: %v", e.Command, e.Key, e.Cause)
}

func (e *AppendError) Unwrap() error {
	return e.Cause
}
