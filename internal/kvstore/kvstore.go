// ============================================================================
// Reference Key/Value Store
// ============================================================================
//
// Package: internal/kvstore
// File: kvstore.go
// Purpose: the minimal "database itself" collaborator spec §1 declares out
// of scope as a specified component, but which an end-to-end buildable
// repository needs to exercise the redo path and the six scenarios of §8.
// Satisfies the key-enumeration collaborator interface the Checkpointer
// uses (spec §4.5) and is the apply target for every WAL command.
//
// ============================================================================

package kvstore

import (
	"strconv"
	"sync"
)

// Store is a plain in-memory map, guarded by a single RWMutex. It carries
// no durability of its own — durability is the WAL's job; this store only
// ever reflects what has already been appended there.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns key's value and whether it is present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value for key, replacing any existing value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Incr parses key's current value as a textual integer (non-numeric falls
// back to 0, matching the replay package's own INCR quirk) and stores the
// result incremented by one, returning the new value.
func (s *Store) Incr(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := strconv.Atoi(s.data[key])
	if err != nil {
		n = 0
	}
	next := strconv.Itoa(n + 1)
	s.data[key] = next
	return next
}

// Del removes key, a no-op if it is absent.
func (s *Store) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Keys returns every key currently live — the enumeration interface the
// Checkpointer walks (spec §4.5).
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
