// ============================================================================
// Checkpointer
// ============================================================================
//
// Package: internal/checkpoint
// File: checkpoint.go
// Purpose: the background worker that compacts the indexed log by
// re-emitting canonical SET records into the WAL (spec §4.5), in Full and
// MFU modes, with self-tuning scheduling.
//
// ============================================================================

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/raft-recovery/internal/keyset"
	"github.com/ChuLiYu/raft-recovery/internal/kvstore"
	"github.com/ChuLiYu/raft-recovery/internal/offsets"
	"github.com/ChuLiYu/raft-recovery/internal/storage/wal"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// mfuPlaceholderWarned guards the single slog.Warn emitted the first time
// MFU mode runs (spec §4.5's Open Question (ii) resolution: this
// implementation preserves the live value instead of the source's literal
// "NULL" placeholder).
var mfuPlaceholderWarned atomic.Bool

// Checkpointer runs Full or MFU compaction rounds against store, emitting
// SETCHECKPOINT/CHECKPOINTEND records through w so the Indexer can
// collapse history on its next drain.
type Checkpointer struct {
	store      *kvstore.Store
	w          *wal.WAL
	counters   *keyset.Counters
	offsetFile *offsets.File

	onlyMFU  bool
	selftune bool

	firstStart   time.Duration
	interval     time.Duration
	numberRounds int // 0 = unbounded

	RoundsCompleted atomic.Uint64

	onRoundComplete func(start, end time.Time) // telemetry hook, see SetRoundHook
}

// New constructs a Checkpointer. offsetFile receives checkpoint-offset
// (Full mode only, per spec §4.5).
func New(store *kvstore.Store, w *wal.WAL, counters *keyset.Counters, offsetFile *offsets.File, onlyMFU, selftune bool, firstStart, interval time.Duration, numberRounds int) *Checkpointer {
	return &Checkpointer{
		store:        store,
		w:            w,
		counters:     counters,
		offsetFile:   offsetFile,
		onlyMFU:      onlyMFU,
		selftune:     selftune,
		firstStart:   firstStart,
		interval:     interval,
		numberRounds: numberRounds,
	}
}

// SetRoundHook installs a callback invoked with a round's own start/end
// timestamps after it completes — the mechanism resolving spec §9's Open
// Question (i): telemetry rows for checkpoint rounds are stamped from the
// round's own clock, never the benchmark harness's.
func (c *Checkpointer) SetRoundHook(fn func(start, end time.Time)) {
	c.onRoundComplete = fn
}

// Run schedules rounds per spec §4.5: the first after firstStart, then
// every interval (self-tuned if enabled), up to numberRounds (0 =
// unbounded). Returns when ctx is cancelled.
func (c *Checkpointer) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(c.firstStart):
	}

	interval := c.interval
	rounds := 0
	for {
		roundStart := time.Now()
		if err := c.runRound(ctx); err != nil {
			return err
		}
		roundEnd := time.Now()
		if c.onRoundComplete != nil {
			c.onRoundComplete(roundStart, roundEnd)
		}
		rounds++
		roundDuration := time.Since(roundStart)

		if c.numberRounds > 0 && rounds >= c.numberRounds {
			return nil
		}

		if c.selftune {
			interval = selfTunedInterval(roundDuration)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// selfTunedInterval implements spec §4.5's feedback loop:
// max(60, lastRoundDuration/2) seconds.
func selfTunedInterval(lastRound time.Duration) time.Duration {
	half := lastRound / 2
	floor := 60 * time.Second
	if half < floor {
		return floor
	}
	return half
}

// runRound performs one checkpoint round, Full or MFU depending on
// onlyMFU.
func (c *Checkpointer) runRound(ctx context.Context) error {
	startOffset := uint64(c.w.Size())

	var keys map[string]bool
	if c.onlyMFU {
		if !mfuPlaceholderWarned.Swap(true) {
			slog.Warn("checkpoint: MFU mode preserves live values in SETCHECKPOINT records instead of the original NULL placeholder")
		}
		// Freeze the working set for the duration of the scan (spec §4.5:
		// "the access-counter-logger flag is toggled off during the
		// checkpoint scan").
		c.counters.SetLoggerEnabled(false)
		defer c.counters.SetLoggerEnabled(true)
		drained := c.counters.DrainAndClear()
		keys = make(map[string]bool, len(drained))
		for k := range drained {
			keys[k] = true
		}
	} else {
		keys = make(map[string]bool)
		for _, k := range c.store.Keys() {
			keys[k] = true
		}
	}

	cancelled := false
	for key := range keys {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		value, ok := c.store.Get(key)
		if !ok {
			continue
		}
		if err := c.w.Append(types.CmdSetCheckpoint, key, value); err != nil {
			return fmt.Errorf("checkpoint: emit SETCHECKPOINT for %q: %w", key, err)
		}
	}

	id := strconv.FormatUint(c.RoundsCompleted.Add(1), 10)
	if err := c.w.Append(types.CmdCheckpointEnd, id); err != nil {
		return fmt.Errorf("checkpoint: emit CHECKPOINTEND: %w", err)
	}

	// Full rounds advance checkpoint-offset only if not cancelled; MFU
	// rounds never advance it (spec §4.5).
	if !c.onlyMFU && !cancelled {
		if err := c.offsetFile.Write(startOffset); err != nil {
			return fmt.Errorf("checkpoint: persist checkpoint-offset: %w", err)
		}
	}

	return nil
}
