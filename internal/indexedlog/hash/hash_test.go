package hash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/raft-recovery/internal/indexedlog"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "index")
	l, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestPutAndLookupPreservesInsertionOrder(t *testing.T) {
	l := newTestLog(t)

	require.NoError(t, l.Put("k1", []byte("v1")))
	require.NoError(t, l.Put("k1", []byte("v2")))
	require.NoError(t, l.Put("k1", []byte("v3")))

	chain, err := l.Lookup("k1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}, chain)
}

func TestLookupMissingKeyReturnsErrNotFound(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Lookup("nope")
	assert.ErrorIs(t, err, indexedlog.ErrNotFound)
}

func TestDeleteRemovesChainAndCounter(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Put("k1", []byte("v1")))
	require.NoError(t, l.Delete("k1"))

	_, err := l.Lookup("k1")
	assert.ErrorIs(t, err, indexedlog.ErrNotFound)

	// sequence restarts from 0 after delete, not continuing the old counter
	require.NoError(t, l.Put("k1", []byte("fresh")))
	chain, err := l.Lookup("k1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("fresh")}, chain)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	l := newTestLog(t)
	assert.NoError(t, l.Delete("nope"))
}

func TestScanVisitsEveryValueAndSkipsSeqCounters(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Put("a", []byte("1")))
	require.NoError(t, l.Put("a", []byte("2")))
	require.NoError(t, l.Put("b", []byte("3")))

	var got []string
	err := l.Scan(func(key string, value []byte) error {
		got = append(got, key+":"+string(value))
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2", "b:3"}, got)
}

func TestScanKeysGroupsChainsByKey(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Put("a", []byte("1")))
	require.NoError(t, l.Put("a", []byte("2")))
	require.NoError(t, l.Put("b", []byte("3")))

	chains := map[string][][]byte{}
	err := l.ScanKeys(func(key string, chain [][]byte) error {
		chains[key] = chain
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, chains["a"])
	assert.Equal(t, [][]byte{[]byte("3")}, chains["b"])
}

func TestSyncAndReopenPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	l, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Put("k1", []byte("v1")))
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	l2, err := Open(dir)
	require.NoError(t, err)
	defer l2.Close()

	chain, err := l2.Lookup("k1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v1")}, chain)
}
