package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

func rec(cmd string, args ...string) types.Record {
	return types.Record{Command: cmd, Args: args}
}

func TestReduceSetThenSet(t *testing.T) {
	chain := []types.Record{
		rec(types.CmdSet, "k", "v1"),
		rec(types.CmdSet, "k", "v2"),
	}
	assert.Equal(t, "v2", Reduce(chain))
}

func TestReduceSetThenIncrTwice(t *testing.T) {
	chain := []types.Record{
		rec(types.CmdSet, "k", "0"),
		rec(types.CmdIncr, "k"),
		rec(types.CmdIncr, "k"),
	}
	assert.Equal(t, "2", Reduce(chain))
}

func TestReduceIncrOnNonNumericFallsBackToZero(t *testing.T) {
	chain := []types.Record{
		rec(types.CmdSet, "k", "not-a-number"),
		rec(types.CmdIncr, "k"),
	}
	assert.Equal(t, "1", Reduce(chain))
}

func TestReduceEmptyChainDefaultsToZero(t *testing.T) {
	assert.Equal(t, "0", Reduce(nil))
}

func TestReduceCheckpointThenDeleteIsNotPartOfReduce(t *testing.T) {
	// Reduce only handles the redo set; DEL is applied by callers removing
	// the chain entirely, not by Reduce itself.
	chain := []types.Record{
		rec(types.CmdSet, "k", "v1"),
		rec(types.CmdSetCheckpoint, "k", "v2"),
	}
	assert.Equal(t, "v2", Reduce(chain))
}

func TestDecodeFrameRoundTrips(t *testing.T) {
	frame := walframe.EncodeBytes(types.CmdSet, "k1", "v1")
	r, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, types.CmdSet, r.Command)
	assert.Equal(t, "k1", r.Key)
	assert.Equal(t, []string{"k1", "v1"}, r.Args)
}

func TestReduceChainDecodesAndReduces(t *testing.T) {
	chain := [][]byte{
		walframe.EncodeBytes(types.CmdSet, "k", "0"),
		walframe.EncodeBytes(types.CmdIncr, "k"),
		walframe.EncodeBytes(types.CmdIncr, "k"),
	}
	v, err := ReduceChain(chain)
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
