// ============================================================================
// Offset & Replica Metadata
// ============================================================================
//
// Package: internal/offsets
// File: offsets.go
// Purpose: crash-safe persistence for the three fixed-path WAL-offset files
// (spec §4.6): indexed-offset, replica-indexed-offset, checkpoint-offset.
//
// Grounded in internal/snapshot.Manager's atomic-write idiom (temp file +
// os.Rename), reused here for an 8-byte little-endian payload instead of a
// JSON blob — the same crash-safety argument applies regardless of payload
// size: a reader only ever observes the old value or the fully-written new
// one, never a partial write.
//
// ============================================================================

package offsets

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// File is a single 8-byte offset file, written atomically.
type File struct {
	path string
	mu   sync.Mutex
}

// New wraps the offset file at path. The file need not exist yet; Read
// returns 0 until the first Write.
func New(path string) *File {
	return &File{path: path}
}

// Read returns the stored offset, or 0 if the file is absent.
func (f *File) Read() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("offsets: read %s: %w", f.path, err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("offsets: %s: expected 8 bytes, got %d", f.path, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write atomically overwrites the offset file: write to a temp file, then
// rename. Callers are responsible for Sync-ing the data the offset
// describes before calling Write (spec §4.6's "Sync data file → then
// overwrite offset file" discipline).
func (f *File) Write(offset uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, offset)

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0644); err != nil {
		return fmt.Errorf("offsets: write temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("offsets: rename %s: %w", f.path, err)
	}
	return nil
}

// Path returns the offset file's path (for testing and debugging).
func (f *File) Path() string {
	return f.path
}

// Set bundles the three offset files spec §4.6 names, so engine
// construction has one place to open them all.
type Set struct {
	Indexed        *File
	ReplicaIndexed *File
	Checkpoint     *File
}

// NewSet opens the three offset files at their configured paths.
func NewSet(indexedPath, replicaIndexedPath, checkpointPath string) *Set {
	return &Set{
		Indexed:        New(indexedPath),
		ReplicaIndexed: New(replicaIndexedPath),
		Checkpoint:     New(checkpointPath),
	}
}
