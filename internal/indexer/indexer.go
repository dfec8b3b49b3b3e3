// ============================================================================
// Log Indexer
// ============================================================================
//
// Package: internal/indexer
// File: indexer.go
// Purpose: tails the WAL and maintains the indexed log (spec §4.2), in
// both asynchronous (background poll) and synchronous (inline WAL-writer
// hook) modes, plus the one-shot startup catch-up pass.
//
// State machine typing grounded in internal/raft.State's
// type+iota+String() idiom (spec §4.2's [DOMAIN] note).
//
// ============================================================================

package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/raft-recovery/internal/indexedlog"
	"github.com/ChuLiYu/raft-recovery/internal/offsets"
	"github.com/ChuLiYu/raft-recovery/internal/storage/wal"
	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// Phase is the Indexer's typed state machine (spec §4.2: "idle → running →
// draining → stopped").
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrMalformedWAL is returned (and logged) when the Indexer hits a
// malformed frame — fatal per spec §4.2/§7.3, never silently skipped.
var ErrMalformedWAL = errors.New("indexer: malformed WAL frame")

// Indexer tails walPath and maintains log, a storage-primitive backend
// satisfying indexedlog.Log.
type Indexer struct {
	walPath      string
	log          indexedlog.Log
	offsetFile   *offsets.File
	pollInterval time.Duration

	mu        sync.Mutex
	phase     Phase
	lastError error

	onDrainComplete func() // test hook, called after every successful drain
}

// New constructs an Indexer. Call StartupCatchUp once before Run.
func New(walPath string, log indexedlog.Log, offsetFile *offsets.File, pollInterval time.Duration) *Indexer {
	if pollInterval <= 0 {
		pollInterval = time.Millisecond
	}
	return &Indexer{
		walPath:      walPath,
		log:          log,
		offsetFile:   offsetFile,
		pollInterval: pollInterval,
		phase:        PhaseIdle,
	}
}

// SetDrainHook installs a callback invoked after every successful drain
// (async Run or catch-up), used by tests to observe progress without
// polling Offset().
func (ix *Indexer) SetDrainHook(fn func()) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.onDrainComplete = fn
}

// Phase returns the Indexer's current state.
func (ix *Indexer) Phase() Phase {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.phase
}

func (ix *Indexer) setPhase(p Phase) {
	ix.mu.Lock()
	ix.phase = p
	ix.mu.Unlock()
}

// applyRecord applies one record to the indexed log per spec §4.2's
// command application table.
func applyRecord(log indexedlog.Log, rec types.Record) error {
	switch rec.Command {
	case types.CmdSet, types.CmdIncr:
		if rec.Key == "" {
			return nil
		}
		return log.Put(rec.Key, rec.Frame)

	case types.CmdDel:
		if rec.Key == "" {
			return nil
		}
		return log.Delete(rec.Key)

	case types.CmdSetCheckpoint:
		if rec.Key == "" {
			return nil
		}
		if err := log.Delete(rec.Key); err != nil && !errors.Is(err, indexedlog.ErrNotFound) {
			return err
		}
		synthetic := walframe.EncodeBytes(types.CmdSet, rec.Args...)
		return log.Put(rec.Key, synthetic)

	case types.CmdCheckpointEnd:
		return nil // marker only, no data change

	default:
		return nil // unrecognized command, ignored
	}
}

// StartupCatchUp runs the one-shot synchronous replay from indexed-offset
// to EOF (spec §4.2's "Startup catch-up"), returning the new offset.
func (ix *Indexer) StartupCatchUp(ctx context.Context) (uint64, error) {
	start, err := ix.offsetFile.Read()
	if err != nil {
		return 0, err
	}

	tr, err := wal.OpenTailReader(ix.walPath, int64(start))
	if err != nil {
		return 0, err
	}
	defer tr.Close()

	pos := start
	for {
		select {
		case <-ctx.Done():
			return pos, ix.drainAndPersist(pos)
		default:
		}

		rec, err := tr.Next()
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			pos = uint64(tr.Pos())
			return pos, ix.drainAndPersist(pos)
		}
		if err != nil {
			if errors.Is(err, walframe.ErrMalformedFrame) {
				slog.Error("indexer: malformed frame during startup catch-up", "path", ix.walPath, "offset", pos)
				return pos, ErrMalformedWAL
			}
			return pos, err
		}

		if applyErr := applyRecord(ix.log, rec); applyErr != nil {
			return pos, applyErr
		}
		pos = uint64(tr.Pos())
	}
}

func (ix *Indexer) drainAndPersist(pos uint64) error {
	if err := ix.log.Sync(); err != nil {
		return err
	}
	if err := ix.offsetFile.Write(pos); err != nil {
		return err
	}
	ix.mu.Lock()
	hook := ix.onDrainComplete
	ix.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// Run starts the asynchronous poll loop (spec §4.2's Algorithm). It blocks
// until ctx is cancelled, at which point it performs a final Sync + offset
// write before returning.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.setPhase(PhaseRunning)
	defer ix.setPhase(PhaseStopped)

	start, err := ix.offsetFile.Read()
	if err != nil {
		return err
	}

	tr, err := wal.OpenTailReader(ix.walPath, int64(start))
	if err != nil {
		return err
	}
	defer tr.Close()

	pos := start
	ticker := time.NewTicker(ix.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.setPhase(PhaseDraining)
			return ix.drainAndPersist(pos)
		case <-ticker.C:
		}

		advanced := false
		for {
			rec, err := tr.Next()
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if err != nil {
				if errors.Is(err, walframe.ErrMalformedFrame) {
					slog.Error("indexer: malformed frame", "path", ix.walPath, "offset", pos)
					ix.mu.Lock()
					ix.lastError = ErrMalformedWAL
					ix.mu.Unlock()
					return ErrMalformedWAL
				}
				return err
			}

			if applyErr := applyRecord(ix.log, rec); applyErr != nil {
				// Runtime put/del failures are logged and retried on the
				// next poll (spec §7.2); the offset stays unadvanced.
				slog.Error("indexer: apply record failed, will retry", "command", rec.Command, "key", rec.Key, "error", applyErr)
				_ = tr.Seek(int64(pos))
				break
			}
			pos = uint64(tr.Pos())
			advanced = true
		}

		if advanced {
			ix.setPhase(PhaseDraining)
			if err := ix.drainAndPersist(pos); err != nil {
				return err
			}
			ix.setPhase(PhaseRunning)
		}

		select {
		case <-ctx.Done():
			ix.setPhase(PhaseDraining)
			return ix.drainAndPersist(pos)
		default:
		}
	}
}

// LastError returns the error that halted a background Run, if any.
func (ix *Indexer) LastError() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastError
}

// SyncHook returns a wal.SyncHook that indexes a single record inline —
// the mechanism realizing synchronous indexing mode (spec §4.2): installed
// on the WAL, it runs after the batch's fsync but before the client's
// Append call returns.
func (ix *Indexer) SyncHook() func(rec types.Record) error {
	return func(rec types.Record) error {
		if err := applyRecord(ix.log, rec); err != nil {
			return err
		}
		if err := ix.log.Sync(); err != nil {
			return err
		}
		return ix.offsetFile.Write(rec.Offset + uint64(len(rec.Frame)))
	}
}
