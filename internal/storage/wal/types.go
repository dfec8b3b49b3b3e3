package wal

// ============================================================================
// WAL Type Definitions
// Responsibility: shared request/response shapes used by the batch writer.
// ============================================================================

import "github.com/ChuLiYu/raft-recovery/pkg/types"

// batchRequest represents a single append request with its response channel.
// frame holds the pre-encoded bytes so the batch writer only has to copy
// them to the file, not re-encode under lock.
type batchRequest struct {
	frame []byte
	rec   types.Record
	errCh chan error
}

// SyncHook is called once per record, in WAL order, immediately after the
// record's batch has been fsynced but before Append returns to its caller.
// This is the notification hook spec §1/§4.2 names: when set, it realizes
// synchronous indexing mode, so the client write does not complete until
// indexing does. A non-nil return value is reported back to the Append
// caller as the write's own error, per §4.2's "performs the same table
// atomically per record before the WAL write call returns".
type SyncHook func(rec types.Record) error
