package wal

// ============================================================================
// WAL Utility Functions
// Purpose: dev-tool style helpers for inspecting a WAL file, grounded in
// original_source/src/ir-dev-tools/countRecords.c (per-command tallies) and
// the pack's general pattern of exposing a Dump/Validate pair alongside a
// storage format.
// ============================================================================

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ChuLiYu/raft-recovery/internal/walframe"
)

// Counts tallies how many records of each recognized command appear in a
// WAL file. It is the Go equivalent of countRecords.c, generalized from
// SET/INCR/DEL/SELECT string-matching to exact frame decoding.
type Counts struct {
	Set           uint64
	Incr          uint64
	Del           uint64
	SetCheckpoint uint64
	CheckpointEnd uint64
	SetIR         uint64
	Other         uint64
	Total         uint64
}

// CountRecords scans path from the beginning, counting records by command.
// A trailing partial frame is not counted and does not produce an error,
// matching the Indexer's own tolerance for an unflushed tail.
func CountRecords(path string) (Counts, error) {
	f, err := os.Open(path)
	if err != nil {
		return Counts{}, fmt.Errorf("wal: open for counting: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var c Counts
	for {
		frame, err := walframe.Decode(br)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return c, nil
		}
		if err != nil {
			return c, fmt.Errorf("wal: count records: %w", err)
		}
		c.Total++
		switch frame.Command {
		case "SET":
			c.Set++
		case "INCR":
			c.Incr++
		case "DEL":
			c.Del++
		case "SETCHECKPOINT":
			c.SetCheckpoint++
		case "CHECKPOINTEND":
			c.CheckpointEnd++
		case "SETIR":
			c.SetIR++
		default:
			c.Other++
		}
	}
}

// Dump writes a human-readable rendering of every complete frame in path to
// w, one line per record, including each frame's checksum for manual
// corruption spot-checks.
func Dump(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open for dump: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	offset := int64(0)
	for {
		frame, err := walframe.Decode(br)
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			ignored := int64(0)
			if info, statErr := f.Stat(); statErr == nil {
				ignored = info.Size() - offset
			}
			fmt.Fprintf(w, "[offset:%d] <partial tail, %d bytes ignored>\n", offset, ignored)
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: dump: %w", err)
		}

		raw := walframe.EncodeBytes(frame.Command, frame.Args...)
		fmt.Fprintf(w, "[offset:%d] %s %v (checksum:0x%08x)\n", offset, frame.Command, frame.Args, FrameChecksum(raw))
		offset += frame.Size
	}
}
