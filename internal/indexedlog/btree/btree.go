// ============================================================================
// Indexed-Log Primitive — ordered-tree backend
// ============================================================================
//
// Package: internal/indexedlog/btree
// File: btree.go
// Purpose: implement indexedlog.Log on go.etcd.io/bbolt, standing in for
// BerkeleyDB's DB_BTREE|DB_DUP access method (spec §4.1,
// indexedlog_structure=BTREE). Every database key gets its own nested
// bucket; each Put assigns the next sequence number within that bucket via
// NextSequence(), so iterating the nested bucket's cursor yields the
// duplicate chain in exact insertion order — the ordered-tree analogue of
// BerkeleyDB's DB_DUP unsorted-duplicates behavior.
//
// ============================================================================

package btree

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/ChuLiYu/raft-recovery/internal/indexedlog"
)

var rootBucket = []byte("keys")

// Log is a bbolt-backed indexedlog.Log.
type Log struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("indexedlog/btree: open: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexedlog/btree: init root bucket: %w", err)
	}

	return &Log{db: db}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Put appends value to key's duplicate chain.
func (l *Log) Put(key string, value []byte) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		kb, err := root.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		seq, err := kb.NextSequence()
		if err != nil {
			return err
		}
		return kb.Put(itob(seq), value)
	})
}

// Delete removes every value for key.
func (l *Log) Delete(key string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		if root.Bucket([]byte(key)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(key))
	})
}

// Lookup returns key's duplicate chain in insertion order.
func (l *Log) Lookup(key string) ([][]byte, error) {
	var chain [][]byte
	err := l.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		kb := root.Bucket([]byte(key))
		if kb == nil {
			return indexedlog.ErrNotFound
		}
		return kb.ForEach(func(_, v []byte) error {
			dup := make([]byte, len(v))
			copy(dup, v)
			chain = append(chain, dup)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// Scan walks every (key, value) pair in key order, duplicates in
// insertion order within each key.
func (l *Log) Scan(fn func(key string, value []byte) error) error {
	err := l.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		c := root.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue // shouldn't happen: root only holds nested buckets
			}
			kb := root.Bucket(k)
			key := string(k)
			if walkErr := kb.ForEach(func(_, dv []byte) error {
				return fn(key, dv)
			}); walkErr != nil {
				return walkErr
			}
		}
		return nil
	})
	if err == indexedlog.ErrStopScan {
		return nil
	}
	return err
}

// ScanKeys walks distinct keys in order, presenting each key's full chain
// at once — the "next distinct key" cursor variant from spec §4.1.
func (l *Log) ScanKeys(fn func(key string, chain [][]byte) error) error {
	err := l.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		c := root.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue
			}
			kb := root.Bucket(k)
			var chain [][]byte
			if err := kb.ForEach(func(_, dv []byte) error {
				dup := make([]byte, len(dv))
				copy(dup, dv)
				chain = append(chain, dup)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(string(k), chain); err != nil {
				return err
			}
		}
		return nil
	})
	if err == indexedlog.ErrStopScan {
		return nil
	}
	return err
}

// Sync flushes bbolt's memory-mapped file to stable storage.
func (l *Log) Sync() error {
	return l.db.Sync()
}

// Close implies Sync.
func (l *Log) Close() error {
	return l.db.Close()
}
