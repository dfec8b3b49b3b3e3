package bench

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/raft-recovery/internal/kvserver"
	"github.com/ChuLiYu/raft-recovery/internal/kvstore"
	"github.com/ChuLiYu/raft-recovery/internal/storage/wal"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := wal.NewWAL(path, 1, time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	srv := kvserver.New(kvstore.New(), w, nil)
	go func() { _ = srv.ListenAndServe("127.0.0.1:0") }()
	t.Cleanup(func() { _ = srv.Close() })

	for i := 0; i < 100; i++ {
		if srv.Addr() != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, srv.Addr())
	return srv.Addr().String()
}

func TestPoolExecutesSubmittedTasksAndReportsResults(t *testing.T) {
	addr := startTestServer(t)
	pool := NewPool(addr, 16)
	require.NoError(t, pool.Start(2))
	defer pool.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, pool.Submit(Task{Command: "SET", Key: "k", Value: "v"}))
	}

	seen := 0
	for seen < n {
		select {
		case res := <-pool.Results():
			assert.True(t, res.Success, "result error: %v", res.Err)
			seen++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for results, got %d/%d", seen, n)
		}
	}
}

func TestSubmitAfterStopReturnsErrPoolClosed(t *testing.T) {
	addr := startTestServer(t)
	pool := NewPool(addr, 4)
	require.NoError(t, pool.Start(1))
	pool.Stop()

	err := pool.Submit(Task{Command: "SET", Key: "k", Value: "v"})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkloadNextTaskRespectsRatios(t *testing.T) {
	w := Workload{Keys: 10, SetRatio: 0.5, IncrRatio: 0.3, DelRatio: 0.2}
	r := rand.New(rand.NewSource(1))

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		task := w.NextTask(r)
		counts[task.Command]++
	}
	assert.Greater(t, counts["SET"], 0)
	assert.Greater(t, counts["INCR"], 0)
	assert.Greater(t, counts["DEL"], 0)
}
