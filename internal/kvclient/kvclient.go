// ============================================================================
// Redo Client
// ============================================================================
//
// Package: internal/kvclient
// File: kvclient.go
// Purpose: the restorers' connection to the live store's "own client
// protocol using a local connection" (spec §6). Dials the address it is
// given (the engine passes its kvserver's own bound loopback address) and
// speaks the same internal/walframe
// encoding the WAL itself uses, issuing SETIR K V.
//
// The prior repository's api/proto/v1 gRPC surface is dropped in favor of
// this plain TCP client — see DESIGN.md for why.
//
// ============================================================================

package kvclient

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// Client is a single persistent connection to internal/kvserver. It is
// safe for concurrent use; callers share one Client across the Incremental
// Restorer and the On-Demand Restorer rather than dialing per-key.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
	addr string
}

// Dial connects to addr (the loopback host:port from config).
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("kvclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, br: bufio.NewReader(conn), addr: addr}, nil
}

// SubmitRedo issues SETIR key value — the redo-submission interface the
// restorers call (spec §4.3 step 2, §4.4 step 4).
func (c *Client) SubmitRedo(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := walframe.Encode(c.conn, types.CmdSetIR, key, value); err != nil {
		return fmt.Errorf("kvclient: submit redo for %q: %w", key, err)
	}
	line, err := c.br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("kvclient: read reply for %q: %w", key, err)
	}
	line = strings.TrimSuffix(line, "\n")
	if strings.HasPrefix(line, "ERR") {
		return fmt.Errorf("kvclient: server rejected redo for %q: %s", key, line)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
