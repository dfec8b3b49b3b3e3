// ============================================================================
// Restored-Key Set & Access-Counter Map
// ============================================================================
//
// Package: internal/keyset
// File: keyset.go
// Purpose: the two small shared mutable structures recovery components
// coordinate through (spec §4.3, §4.4, §4.5):
//
//   - Set: the restored-key set. Monotonic membership — once a key is
//     marked restored within a recovery epoch it never leaves. Probed and
//     inserted by both the Incremental Restorer and the On-Demand
//     Restorer.
//   - Counters: the access-counter map, maintained only while MFU
//     checkpoint mode is on. Incremented by the command path on every
//     SET/INCR, drained and cleared by each MFU checkpoint round.
//
// Grounded in internal/jobmanager.JobManager's hybrid design: a single
// sync.RWMutex-protected map as the source of truth, RLock for membership
// reads, Lock for mutation — generalized from job-lifecycle bookkeeping
// down to the two flat maps this domain actually needs.
//
// ============================================================================

package keyset

import (
	"sync"
	"sync/atomic"
)

// Set is the restored-key set: a monotonic, concurrency-safe membership
// marker keyed by database key.
type Set struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

// NewSet returns an empty restored-key set.
func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

// Contains reports whether key has already been marked restored.
func (s *Set) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[key]
	return ok
}

// Add marks key as restored. Returns true if this call was the one that
// added it (false if it was already present), letting callers detect the
// race the On-Demand and Incremental restorers both run (spec §4.4's
// "restored-key present is monotonic so a concurrent winner is harmless").
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	return true
}

// Len returns the number of restored keys.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Reset clears the set, starting a new recovery epoch.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = make(map[string]struct{})
}

// Counters is the access-counter map used by MFU checkpoint mode.
type Counters struct {
	mu       sync.Mutex
	counts   map[string]uint64
	loggerOn atomic.Bool
}

// NewCounters returns an empty access-counter map with the logger flag on.
func NewCounters() *Counters {
	c := &Counters{counts: make(map[string]uint64)}
	c.loggerOn.Store(true)
	return c
}

// SetLoggerEnabled toggles the access-counter logger flag (spec §4.5): the
// checkpointer turns it off for the duration of its MFU key scan to freeze
// the working set, and back on once the round completes. Increment is a
// no-op while the flag is off.
func (c *Counters) SetLoggerEnabled(enabled bool) {
	c.loggerOn.Store(enabled)
}

// Increment bumps key's access count by one. Called from the command path
// on every SET/INCR while the access-counter logger flag is on.
func (c *Counters) Increment(key string) {
	if !c.loggerOn.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
}

// DrainAndClear returns a snapshot of every key with a non-zero count and
// resets the map to empty, atomically. Used by the MFU checkpoint at the
// start of each round: only keys returned here are eligible for that
// round's checkpoint (spec §4.5).
func (c *Counters) DrainAndClear() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.counts
	c.counts = make(map[string]uint64)
	return drained
}

// Len returns the number of distinct keys currently tracked.
func (c *Counters) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
