// ============================================================================
// Recovery Engine - System Core Coordinator
// ============================================================================
//
// Package: internal/engine
// File: engine.go
// Purpose: owns every recovery subsystem (WAL, indexed log, restored-key
// set, access counters, offset files, Indexer, Checkpointer, the reference
// kvserver/kvstore/kvclient collaborators) and drives their Start/Stop
// lifecycle.
//
// Architecture: re-architected from internal/controller.Controller's
// explicit-struct-owns-every-subsystem shape (JobManager/WAL/Snapshot/Pool)
// per SPEC_FULL.md's "avoid process globals" design note. Where the
// teacher's Controller coordinates job dispatch/result/timeout/snapshot
// loops under one mutex and a stopCh, Engine coordinates the Indexer's
// async drain loop, the Checkpointer's round scheduler, and the
// Incremental Restorer the same way: one struct, one cancel func, one
// sync.WaitGroup.
//
// Startup recovery order (spec §4.2/§7.5): open the indexed log, falling
// back in order (i) replica rename (ii) rebuild from checkpoint-offset
// (iii) rebuild from 0 if the primary file is missing, corrupt, or
// rebuild_indexedlog forces it — then run the Indexer's synchronous
// startup catch-up before declaring the engine ready, mirroring the
// teacher's loadSnapshot-then-replayWAL recovery phase in
// Controller.Start.
//
// ============================================================================

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/raft-recovery/internal/checkpoint"
	"github.com/ChuLiYu/raft-recovery/internal/config"
	"github.com/ChuLiYu/raft-recovery/internal/indexedlog"
	"github.com/ChuLiYu/raft-recovery/internal/indexedlog/btree"
	"github.com/ChuLiYu/raft-recovery/internal/indexedlog/hash"
	"github.com/ChuLiYu/raft-recovery/internal/indexer"
	"github.com/ChuLiYu/raft-recovery/internal/keyset"
	"github.com/ChuLiYu/raft-recovery/internal/kvclient"
	"github.com/ChuLiYu/raft-recovery/internal/kvserver"
	"github.com/ChuLiYu/raft-recovery/internal/kvstore"
	"github.com/ChuLiYu/raft-recovery/internal/metrics"
	"github.com/ChuLiYu/raft-recovery/internal/offsets"
	"github.com/ChuLiYu/raft-recovery/internal/restore"
	"github.com/ChuLiYu/raft-recovery/internal/storage/wal"
	"github.com/ChuLiYu/raft-recovery/internal/telemetry"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

var log = slog.Default()

// sharedCollector hands every Engine in the process the same Collector:
// metrics.NewCollector registers with Prometheus' default registry, which
// accepts each metric name only once.
var sharedCollector = sync.OnceValue(metrics.NewCollector)

// Engine is the recovery subsystem's core coordinator.
type Engine struct {
	cfg config.Engine

	store      *kvstore.Store
	w          *wal.WAL
	idxLog     indexedlog.Log
	offsetSet  *offsets.Set
	redoClient *kvclient.Client

	restored *keyset.Set
	counters *keyset.Counters

	indexer      *indexer.Indexer
	checkpointer *checkpoint.Checkpointer
	server       *kvserver.Server
	metrics      *metrics.Collector
	telemetry    *telemetry.Queue
	telemetryF   *os.File

	stats restore.Stats

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New constructs an Engine without starting any subsystem. The indexed log
// is opened (with startup fallback, see openIndexedLog) and, if instant
// recovery is enabled, the Indexer's synchronous startup catch-up has
// already run by the time New returns — matching spec §4's "run startup
// catch-up indexing of the WAL tail" before "start background workers".
func New(cfg config.Engine) (*Engine, error) {
	w, err := wal.NewWAL(cfg.AOFFilename, 100, cfg.IndexerTimeInterval)
	if err != nil {
		return nil, fmt.Errorf("engine: open WAL: %w", err)
	}

	offSet := offsets.NewSet(cfg.IndexedOffsetPath, cfg.ReplicaIndexedOffsetPath, cfg.CheckpointOffsetPath)

	idxLog, start, err := openIndexedLog(cfg, offSet)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: open indexed log: %w", err)
	}
	// The Indexer resumes from indexed-offset, so record there the offset
	// the fallback chain chose.
	if err := offSet.Indexed.Write(start); err != nil {
		idxLog.Close()
		w.Close()
		return nil, fmt.Errorf("engine: persist resume offset: %w", err)
	}

	idx := indexer.New(cfg.AOFFilename, idxLog, offSet.Indexed, cfg.IndexerTimeInterval)

	if cfg.InstantRecoverySynchronous == types.On {
		w.SetSyncHook(idx.SyncHook())
	}

	telemetryPath := cfg.AOFFilename + ".telemetry.csv"
	telemetryF, err := os.OpenFile(telemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: open telemetry sink: %w", err)
	}
	telemetryQueue := telemetry.NewQueue(telemetryF, 256)

	e := &Engine{
		cfg:        cfg,
		store:      kvstore.New(),
		w:          w,
		idxLog:     idxLog,
		offsetSet:  offSet,
		restored:   keyset.NewSet(),
		counters:   keyset.NewCounters(),
		indexer:    idx,
		metrics:    sharedCollector(),
		telemetry:  telemetryQueue,
		telemetryF: telemetryF,
	}

	var lastDrain time.Time
	idx.SetDrainHook(func() {
		now := time.Now()
		if !lastDrain.IsZero() {
			e.metrics.RecordIndexerDrain(now.Sub(lastDrain).Seconds())
		}
		lastDrain = now
		if off, err := offSet.Indexed.Read(); err == nil {
			e.metrics.SetIndexedOffset(off)
		}
		_ = e.telemetry.Enqueue(telemetry.Row{Label: "Indexer", Start: now, End: now})
	})

	e.checkpointer = checkpoint.New(
		e.store, e.w, e.counters, offSet.Checkpoint,
		bool(cfg.CheckpointsOnlyMFU), bool(cfg.SelftuneCheckpointTimeInterval),
		cfg.FirstCheckpointStartTime, cfg.CheckpointTimeInterval, cfg.NumberCheckpoints,
	)
	e.checkpointer.SetRoundHook(func(start, end time.Time) {
		e.metrics.RecordCheckpointRound(end.Sub(start).Seconds())
		if off, err := offSet.Checkpoint.Read(); err == nil {
			e.metrics.SetCheckpointOffset(off)
		}
		_ = e.telemetry.Enqueue(telemetry.Row{Label: "Checkpoint", Start: start, End: end})
	})

	e.server = kvserver.New(e.store, e.w, e.materialize)

	if bool(cfg.InstantRecoveryState) {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := idx.StartupCatchUp(ctx)
		cancel()
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("engine: startup catch-up: %w", err)
		}
	}

	return e, nil
}

// materialize is the kvserver.MaterializeFunc hook: before a key is served
// from the live store, make sure it has been restored at least once. cmd
// gates the MFU access counter (spec §4.5): only SET/INCR feed it, and
// only while MFU checkpoint mode is on.
func (e *Engine) materialize(cmd, key string) error {
	if e.redoClient == nil {
		// Server accepted a connection before Start dialed the loopback
		// redo client; this only happens if callers bypass Start.
		return nil
	}
	start := time.Now()
	alreadyRestored := e.restored.Contains(key)
	found, err := restore.OnDemand(key, e.idxLog, e.restored, e.redoClient, &e.stats)
	if err != nil {
		return err
	}
	e.metrics.SetRestoredKeys(e.restored.Len())
	if found && !alreadyRestored {
		e.metrics.RecordOnDemandLoad()
		_ = e.telemetry.Enqueue(telemetry.Row{Label: "OnDemandLoad", Start: start, End: time.Now(), Detail: key})
	}
	if e.cfg.CheckpointsOnlyMFU == types.On && (cmd == types.CmdSet || cmd == types.CmdIncr) {
		e.counters.Increment(key)
	}
	return nil
}

// Start runs the Indexer, Checkpointer, and Incremental Restorer
// concurrently against a kvserver listening at addr. Returns once the
// kvserver is accepting connections; background workers keep running
// until Stop is called.
func (e *Engine) Start(addr string) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(addr); err != nil {
			serveErr <- err
		}
	}()

	for i := 0; i < 200; i++ {
		if e.server.Addr() != nil {
			break
		}
		select {
		case err := <-serveErr:
			return fmt.Errorf("engine: start kvserver: %w", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if e.server.Addr() == nil {
		return fmt.Errorf("engine: kvserver did not bind %s", addr)
	}

	rc, err := kvclient.Dial(e.server.Addr().String())
	if err != nil {
		return fmt.Errorf("engine: dial loopback redo client: %w", err)
	}
	e.redoClient = rc

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	indexerStarted := make(chan struct{})
	restorerStarted := make(chan struct{})

	startIndexer := func(waitFor <-chan struct{}) {
		if e.cfg.InstantRecoveryState != types.On || e.cfg.InstantRecoverySynchronous == types.On {
			close(indexerStarted)
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			close(indexerStarted)
			if waitFor != nil {
				<-waitFor
			}
			if err := e.indexer.Run(ctx); err != nil {
				log.Error("indexer stopped with error", "error", err)
			}
		}()
	}

	startRestorer := func(waitFor <-chan struct{}) {
		if !bool(e.cfg.InstantRecoveryState) {
			close(restorerStarted)
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			close(restorerStarted)
			if waitFor != nil {
				<-waitFor
			}
			start := time.Now()
			before := e.stats.IncrementalLoads.Load()
			if err := restore.Incremental(ctx, e.idxLog, e.restored, e.redoClient, &e.stats); err != nil {
				log.Error("incremental restore stopped with error", "error", err)
			}
			for i := uint64(0); i < e.stats.IncrementalLoads.Load()-before; i++ {
				e.metrics.RecordIncrementalLoad()
			}
			e.metrics.SetRestoredKeys(e.restored.Len())
			_ = e.telemetry.Enqueue(telemetry.Row{Label: "IncrementalRestore", Start: start, End: time.Now()})
		}()
	}

	// spec §6's starts_log_indexing: whether the Indexer starts before or
	// after the Incremental Restorer. Each goroutine closes its own
	// "started" channel as its first act, so the later goroutine's wait is
	// on the earlier one's actual launch, not just declaration order.
	if e.cfg.StartsLogIndexing == types.StartAfter {
		startRestorer(nil)
		startIndexer(restorerStarted)
	} else {
		startIndexer(nil)
		startRestorer(indexerStarted)
	}

	if bool(e.cfg.CheckpointState) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.checkpointer.Run(ctx); err != nil {
				log.Error("checkpointer stopped with error", "error", err)
			}
		}()
	}

	log.Info("engine started", "addr", e.server.Addr().String())
	return nil
}

// Stop signals every background worker, waits for them to exit, then
// closes the redo client, kvserver, WAL, indexed log, telemetry queue, and
// telemetry sink file in that order.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.redoClient != nil {
		if err := e.redoClient.Close(); err != nil {
			log.Error("failed to close redo client", "error", err)
		}
	}
	if err := e.server.Close(); err != nil {
		log.Error("failed to close kvserver", "error", err)
	}
	if err := e.w.Close(); err != nil {
		log.Error("failed to close WAL", "error", err)
	}
	if err := e.idxLog.Close(); err != nil {
		log.Error("failed to close indexed log", "error", err)
	}
	if err := e.telemetry.Close(); err != nil {
		log.Error("failed to close telemetry queue", "error", err)
	}
	if err := e.telemetryF.Close(); err != nil {
		log.Error("failed to close telemetry sink file", "error", err)
	}
}

// Stats returns the live restore statistics (on-demand, incremental,
// inconsistent load counts).
func (e *Engine) Stats() (onDemand, incremental, inconsistent uint64) {
	return e.stats.OnDemandLoads.Load(), e.stats.IncrementalLoads.Load(), e.stats.InconsistentLoads.Load()
}

// Store exposes the reference in-memory collaborator, for callers (e.g.
// the CLI's status command) that want to read it directly.
func (e *Engine) Store() *kvstore.Store { return e.store }

// Addr returns the kvserver's bound listener address, or nil before Start
// completes. Callers that started Start(addr) with a literal port of 0
// (an ephemeral port, as tests do) use this to discover what was bound.
func (e *Engine) Addr() net.Addr { return e.server.Addr() }

// PersistShutdownMarker records ts as the last-known clean-shutdown time,
// using the same atomic temp-file-then-rename write as the offset files.
// Callers are internal/cli's run subcommand and cmd/demo (on shutdown) and
// the restart-sim subcommand, which re-execs the process to simulate a
// benchmark-driven restart (spec §9's "process self-restart hook").
func (e *Engine) PersistShutdownMarker(ts time.Time) error {
	marker := offsets.New(e.cfg.IndexedOffsetPath + ".shutdown-marker")
	return marker.Write(uint64(ts.UnixNano()))
}

// openIndexedLog implements spec §4.2/§7.5's startup fallback chain. It
// returns the opened Log and the WAL offset the Indexer's startup
// catch-up should resume from.
func openIndexedLog(cfg config.Engine, offSet *offsets.Set) (indexedlog.Log, uint64, error) {
	if bool(cfg.RebuildIndexedLog) {
		if err := os.RemoveAll(cfg.IndexedLogFilename); err != nil && !os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("rebuild_indexedlog: remove stale log: %w", err)
		}
		l, err := openBackend(cfg.IndexedLogStructure, cfg.IndexedLogFilename)
		if err != nil {
			return nil, 0, err
		}
		start, err := offSet.Checkpoint.Read()
		if err != nil {
			return nil, 0, err
		}
		log.Info("rebuild_indexedlog forced; rebuilding from checkpoint-offset", "offset", start)
		return l, start, nil
	}

	if _, statErr := os.Stat(cfg.IndexedLogFilename); statErr == nil {
		l, err := openBackend(cfg.IndexedLogStructure, cfg.IndexedLogFilename)
		if err == nil {
			start, rerr := offSet.Indexed.Read()
			if rerr != nil {
				return nil, 0, rerr
			}
			return l, start, nil
		}
		log.Warn("indexed log failed to open; falling back", "error", err)
		if err := os.RemoveAll(cfg.IndexedLogFilename); err != nil {
			return nil, 0, fmt.Errorf("engine: remove unreadable indexed log: %w", err)
		}
	}

	// (i) replica rename.
	if bool(cfg.IndexedLogReplicated) && cfg.IndexedLogReplicatedFilename != "" {
		if _, statErr := os.Stat(cfg.IndexedLogReplicatedFilename); statErr == nil {
			if renameErr := os.Rename(cfg.IndexedLogReplicatedFilename, cfg.IndexedLogFilename); renameErr != nil {
				return nil, 0, fmt.Errorf("engine: replica rename: %w", renameErr)
			}
			l, openErr := openBackend(cfg.IndexedLogStructure, cfg.IndexedLogFilename)
			if openErr != nil {
				return nil, 0, fmt.Errorf("engine: open renamed replica: %w", openErr)
			}
			start, rerr := offSet.ReplicaIndexed.Read()
			if rerr != nil {
				return nil, 0, rerr
			}
			log.Warn("indexed log missing; promoted replica and disabled replication",
				"replica", cfg.IndexedLogReplicatedFilename)
			cfg.IndexedLogReplicated = types.Off
			return l, start, nil
		}
	}

	// (ii) rebuild from checkpoint-offset.
	checkpointOffset, cerr := offSet.Checkpoint.Read()
	if cerr == nil && checkpointOffset > 0 {
		l, openErr := openBackend(cfg.IndexedLogStructure, cfg.IndexedLogFilename)
		if openErr != nil {
			return nil, 0, fmt.Errorf("engine: rebuild from checkpoint-offset: %w", openErr)
		}
		log.Warn("indexed log missing; rebuilding from checkpoint-offset", "offset", checkpointOffset)
		return l, checkpointOffset, nil
	}

	// (iii) rebuild from 0.
	l, openErr := openBackend(cfg.IndexedLogStructure, cfg.IndexedLogFilename)
	if openErr != nil {
		return nil, 0, fmt.Errorf("engine: rebuild from 0: %w", openErr)
	}
	log.Warn("indexed log missing; no replica or checkpoint-offset, rebuilding from 0")
	return l, 0, nil
}

func openBackend(structure types.StructureKind, path string) (indexedlog.Log, error) {
	if structure == types.StructureHash {
		return hash.Open(path)
	}
	return btree.Open(path)
}
