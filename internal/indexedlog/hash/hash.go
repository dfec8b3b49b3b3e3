// ============================================================================
// Indexed-Log Primitive — point-lookup backend
// ============================================================================
//
// Package: internal/indexedlog/hash
// File: hash.go
// Purpose: implement indexedlog.Log on github.com/dgraph-io/badger/v4,
// standing in for BerkeleyDB's DB_HASH|DB_DUP access method (spec §4.1,
// indexedlog_structure=HASH). Badger is an LSM-tree, not a literal hash
// table — it is the closest embeddable point-lookup engine anywhere in the
// example pack (see DESIGN.md), and its key ordering is irrelevant here
// exactly as DB_HASH's is: Scan/ScanKeys make no ordering guarantee for
// this backend, matching BerkeleyDB's own DB_HASH semantics.
//
// Keys are encoded as dbkey || 0x00 || big-endian-uint64(seq); a companion
// "seq:" + dbkey counter key tracks the next sequence number for that
// database key, so repeated Put calls still produce an ordered duplicate
// chain even though the backing store has no native duplicate-key concept.
//
// ============================================================================

package hash

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ChuLiYu/raft-recovery/internal/indexedlog"
)

const seqKeyPrefix = "seq:"

// Log is a badger-backed indexedlog.Log.
type Log struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger database at dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("indexedlog/hash: open: %w", err)
	}
	return &Log{db: db}, nil
}

func encodeEntryKey(dbkey string, seq uint64) []byte {
	b := make([]byte, len(dbkey)+1+8)
	n := copy(b, dbkey)
	b[n] = 0x00
	binary.BigEndian.PutUint64(b[n+1:], seq)
	return b
}

func seqCounterKey(dbkey string) []byte {
	return []byte(seqKeyPrefix + dbkey)
}

// nextSeq reads-then-increments the per-key sequence counter within an
// already-open read-write transaction.
func nextSeq(txn *badger.Txn, dbkey string) (uint64, error) {
	ck := seqCounterKey(dbkey)
	var seq uint64

	item, err := txn.Get(ck)
	switch err {
	case nil:
		if cerr := item.Value(func(v []byte) error {
			seq = binary.BigEndian.Uint64(v)
			return nil
		}); cerr != nil {
			return 0, cerr
		}
	case badger.ErrKeyNotFound:
		seq = 0
	default:
		return 0, err
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq+1)
	if err := txn.Set(ck, next); err != nil {
		return 0, err
	}
	return seq, nil
}

// Put appends value to key's duplicate chain.
func (l *Log) Put(key string, value []byte) error {
	return l.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, key)
		if err != nil {
			return err
		}
		return txn.Set(encodeEntryKey(key, seq), value)
	})
}

// Delete removes every value for key, plus its sequence counter.
func (l *Log) Delete(key string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		prefix := append([]byte(key), 0x00)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			toDelete = append(toDelete, k)
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(seqCounterKey(key))
	})
}

// Lookup returns key's duplicate chain in insertion (sequence) order.
func (l *Log) Lookup(key string) ([][]byte, error) {
	var chain [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := append([]byte(key), 0x00)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(v []byte) error {
				dup := make([]byte, len(v))
				copy(dup, v)
				chain = append(chain, dup)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, indexedlog.ErrNotFound
	}
	return chain, nil
}

func splitEntryKey(k []byte) (dbkey string, ok bool) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == 0x00 && len(k)-i-1 == 8 {
			return string(k[:i]), true
		}
	}
	return "", false
}

// Scan walks every (key, value) pair. Badger gives no cross-key ordering
// guarantee, matching DB_HASH's own semantics.
func (l *Log) Scan(fn func(key string, value []byte) error) error {
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			dbkey, ok := splitEntryKey(k)
			if !ok {
				continue // skip "seq:" counter keys
			}
			if err := item.Value(func(v []byte) error {
				return fn(dbkey, v)
			}); err != nil {
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

// ScanKeys walks distinct keys, presenting each key's full chain at once.
// Because badger's iteration is not grouped by our dbkey prefix across the
// whole keyspace in a single pass here, we accumulate per-key chains and
// emit them once the scan completes.
func (l *Log) ScanKeys(fn func(key string, chain [][]byte) error) error {
	chains := map[string][][]byte{}
	order := []string{}

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			dbkey, ok := splitEntryKey(k)
			if !ok {
				continue
			}
			if _, seen := chains[dbkey]; !seen {
				order = append(order, dbkey)
			}
			if err := item.Value(func(v []byte) error {
				dup := make([]byte, len(v))
				copy(dup, v)
				chains[dbkey] = append(chains[dbkey], dup)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, dbkey := range order {
		if err := fn(dbkey, chains[dbkey]); err != nil {
			if err == indexedlog.ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

// Sync flushes badger's write-ahead log to stable storage.
func (l *Log) Sync() error {
	return l.db.Sync()
}

// Close implies Sync.
func (l *Log) Close() error {
	return l.db.Close()
}
