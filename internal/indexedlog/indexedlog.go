// ============================================================================
// Indexed-Log Primitive
// ============================================================================
//
// Package: internal/indexedlog
// File: indexedlog.go
// Purpose: persistent ordered map from database key to the sequence of WAL
// frames that redo it, with duplicate keys permitted (spec §4.1).
//
// Two backends implement Log: internal/indexedlog/btree (go.etcd.io/bbolt,
// ordered-tree, duplicates via a monotonic sub-sequence) and
// internal/indexedlog/hash (github.com/dgraph-io/badger/v4, optimized for
// point lookups at the cost of scan order). Both are grounded in
// original_source's use of BerkeleyDB's DB_BTREE/DB_HASH access methods
// with the DB_DUP flag — see DESIGN.md for why these are the closest
// embeddable equivalents found anywhere in the example pack.
//
// ============================================================================

package indexedlog

import "errors"

var (
	// ErrNotFound is returned by Lookup when a key has no chain.
	ErrNotFound = errors.New("indexedlog: key not found")

	// ErrClosed names the closed state. Neither backend returns it: an
	// operation on a closed Log fails with the underlying store's own
	// closed-database error.
	ErrClosed = errors.New("indexedlog: closed")
)

// Mode selects how the primitive is opened (spec §4.1's Open contract).
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeThreadShared
)

// Log is the storage-primitive contract every backend implements.
type Log interface {
	// Put appends value to key's duplicate chain. No dedup.
	Put(key string, value []byte) error

	// Delete removes every value in key's chain.
	Delete(key string) error

	// Lookup returns key's chain in insertion order, or ErrNotFound.
	Lookup(key string) ([][]byte, error)

	// Scan walks every (key, value) pair, calling fn for each; the btree
	// backend walks in key order, the hash backend in no defined key
	// order. If fn returns ErrStopScan, Scan returns nil immediately.
	Scan(fn func(key string, value []byte) error) error

	// ScanKeys walks distinct keys (in key order for the btree backend,
	// in no defined order for the hash backend), calling fn once per key with
	// its full chain — the "next distinct key" cursor variant from
	// §4.1, used by restorers that reconstruct one key at a time.
	ScanKeys(fn func(key string, chain [][]byte) error) error

	// Sync flushes all buffered state to stable storage. After Sync
	// returns, every prior Put/Delete is durable.
	Sync() error

	// Close implies Sync.
	Close() error
}

// ErrStopScan is a sentinel a Scan/ScanKeys callback can return to end
// iteration early without it being treated as a failure.
var ErrStopScan = errors.New("indexedlog: stop scan")
