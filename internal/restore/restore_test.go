package restore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/raft-recovery/internal/indexedlog/btree"
	"github.com/ChuLiYu/raft-recovery/internal/keyset"
	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	applied  map[string]string
	failKeys map[string]bool
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{applied: map[string]string{}, failKeys: map[string]bool{}}
}

func (f *fakeSubmitter) SubmitRedo(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[key] {
		return errors.New("simulated redo failure")
	}
	f.applied[key] = value
	return nil
}

func newTestLog(t *testing.T) *btree.Log {
	t.Helper()
	l, err := btree.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestIncrementalRestoresEveryUnrestoredKey(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdSet, "k1", "v1")))
	require.NoError(t, log.Put("k2", walframe.EncodeBytes(types.CmdSet, "k2", "v2")))

	restored := keyset.NewSet()
	submitter := newFakeSubmitter()
	stats := &Stats{}

	require.NoError(t, Incremental(context.Background(), log, restored, submitter, stats))

	assert.Equal(t, "v1", submitter.applied["k1"])
	assert.Equal(t, "v2", submitter.applied["k2"])
	assert.True(t, restored.Contains("k1"))
	assert.True(t, restored.Contains("k2"))
	assert.EqualValues(t, 2, stats.IncrementalLoads.Load())
}

func TestIncrementalSkipsAlreadyRestoredKeys(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdSet, "k1", "v1")))

	restored := keyset.NewSet()
	restored.Add("k1") // simulate a concurrent on-demand win
	submitter := newFakeSubmitter()
	stats := &Stats{}

	require.NoError(t, Incremental(context.Background(), log, restored, submitter, stats))

	_, wasSubmitted := submitter.applied["k1"]
	assert.False(t, wasSubmitted)
	assert.EqualValues(t, 0, stats.IncrementalLoads.Load())
}

func TestIncrementalStopsOnCancellation(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdSet, "k1", "v1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	restored := keyset.NewSet()
	submitter := newFakeSubmitter()
	stats := &Stats{}

	require.NoError(t, Incremental(ctx, log, restored, submitter, stats))
	assert.False(t, restored.Contains("k1"))
}

func TestIncrementalCountsFailedSubmitAsInconsistentButStillMarksRestored(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdSet, "k1", "v1")))

	restored := keyset.NewSet()
	submitter := newFakeSubmitter()
	submitter.failKeys["k1"] = true
	stats := &Stats{}

	require.NoError(t, Incremental(context.Background(), log, restored, submitter, stats))

	assert.True(t, restored.Contains("k1"), "key is marked restored to prevent retry storms")
	assert.EqualValues(t, 1, stats.InconsistentLoads.Load())
	assert.EqualValues(t, 0, stats.IncrementalLoads.Load())
}

func TestOnDemandReturnsFalseForKeyNotInLog(t *testing.T) {
	log := newTestLog(t)
	restored := keyset.NewSet()
	submitter := newFakeSubmitter()
	stats := &Stats{}

	found, err := OnDemand("nope", log, restored, submitter, stats)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, restored.Contains("nope"), "future accesses skip the disk lookup")
}

func TestOnDemandRestoresAndMarksKey(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdSet, "k1", "v1")))
	require.NoError(t, log.Put("k1", walframe.EncodeBytes(types.CmdIncr, "k1")))

	restored := keyset.NewSet()
	submitter := newFakeSubmitter()
	stats := &Stats{}

	found, err := OnDemand("k1", log, restored, submitter, stats)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", submitter.applied["k1"], "SET v1 then INCR falls back to 0 on the non-numeric value, then +1")
	assert.True(t, restored.Contains("k1"))
	assert.EqualValues(t, 1, stats.OnDemandLoads.Load())
}

func TestOnDemandShortCircuitsIfAlreadyRestored(t *testing.T) {
	log := newTestLog(t)
	restored := keyset.NewSet()
	restored.Add("k1")
	submitter := newFakeSubmitter()
	stats := &Stats{}

	found, err := OnDemand("k1", log, restored, submitter, stats)
	require.NoError(t, err)
	assert.True(t, found)
	_, wasSubmitted := submitter.applied["k1"]
	assert.False(t, wasSubmitted)
}
