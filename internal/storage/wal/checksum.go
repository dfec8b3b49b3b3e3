package wal

// ============================================================================
// Frame Checksum
// Responsibility: CRC32 over a raw WAL frame, for operator-facing dump/debug
// tooling (internal/storage/wal/utils.go). The frame format itself (length
// prefixes) is what the Indexer relies on for corruption detection during
// normal operation; this checksum is a secondary, human-facing aid.
// ============================================================================

import "hash/crc32"

// FrameChecksum returns the CRC32-IEEE checksum of a frame's raw bytes.
func FrameChecksum(frame []byte) uint32 {
	return crc32.ChecksumIEEE(frame)
}
