// ============================================================================
// Replay Rules
// ============================================================================
//
// Package: internal/replay
// File: replay.go
// Purpose: the single numeric-replay implementation shared by the
// Incremental Restorer (§4.3) and the On-Demand Restorer (§4.4) — both
// reduce a key's indexed-log duplicate chain to one final value with the
// exact same rules, so the rules live in one place instead of being
// duplicated per restorer.
//
// ============================================================================

package replay

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"

	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// Reduce replays chain — the ordered sequence of framed records for one
// key — into its final value, per spec §4.3:
//
//   - value starts at "0"
//   - SET replaces value with its argument
//   - INCR parses value as a textual integer (atoi-style: a non-numeric
//     value falls back to 0 — spec §4.3's documented quirk, §9 Open
//     Question iii) and increments it by one
//
// chain must already be in WAL order (the order the indexed-log backend
// preserves per key).
func Reduce(chain []types.Record) string {
	value := "0"
	for _, rec := range chain {
		switch rec.Command {
		case types.CmdSet, types.CmdSetCheckpoint, types.CmdSetIR:
			if len(rec.Args) > 1 {
				value = rec.Args[1]
			}
		case types.CmdIncr:
			value = strconv.Itoa(atoiFallback(value) + 1)
		}
	}
	return value
}

// atoiFallback parses s as a textual integer, returning 0 if s is not a
// valid integer — the documented non-numeric-INCR quirk (spec §9 (iii)).
func atoiFallback(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// DecodeFrame decodes a single raw WAL frame, as stored verbatim in an
// indexed-log duplicate chain, back into a types.Record.
func DecodeFrame(frame []byte) (types.Record, error) {
	f, err := walframe.Decode(bufio.NewReader(bytes.NewReader(frame)))
	if err != nil {
		return types.Record{}, fmt.Errorf("replay: decode frame: %w", err)
	}
	rec := types.Record{Command: f.Command, Args: f.Args, Frame: frame}
	if len(f.Args) > 0 {
		rec.Key = f.Args[0]
	}
	return rec, nil
}

// ReduceChain decodes every raw frame in chain (as returned by
// indexedlog.Log.Lookup, in WAL order) and reduces them to a final value
// with Reduce.
func ReduceChain(chain [][]byte) (string, error) {
	recs := make([]types.Record, 0, len(chain))
	for _, frame := range chain {
		rec, err := DecodeFrame(frame)
		if err != nil {
			return "", err
		}
		recs = append(recs, rec)
	}
	return Reduce(recs), nil
}
