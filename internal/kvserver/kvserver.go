// ============================================================================
// Loopback Key/Value Server
// ============================================================================
//
// Package: internal/kvserver
// File: kvserver.go
// Purpose: the loopback listener that completes the "database itself"
// collaborator (spec §1), speaking the redo-submission client protocol
// (spec §6) over internal/walframe. Every mutating command a client
// sends is appended to the WAL before it is applied to the in-memory
// store, so the Indexer observes exactly what clients observe.
//
// ============================================================================

package kvserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ChuLiYu/raft-recovery/internal/kvstore"
	"github.com/ChuLiYu/raft-recovery/internal/storage/wal"
	"github.com/ChuLiYu/raft-recovery/internal/walframe"
	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// MaterializeFunc is the On-Demand Restorer's entry point (spec §4.4):
// called before a client command touches key, it returns once key is
// guaranteed present in the store (or guaranteed absent from the log). cmd
// is the command name the caller is about to apply, since the MFU
// access-counter gate (spec §4.5) cares whether this was a SET/INCR.
type MaterializeFunc func(cmd, key string) error

// Server is the loopback command endpoint. It owns neither the WAL nor the
// store's lifecycle — both are supplied by the engine that wires this
// server up, so this type stays a thin protocol adapter.
type Server struct {
	store       *kvstore.Store
	w           *wal.WAL
	materialize MaterializeFunc

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	closed   chan struct{}
	isClosed bool
}

// New returns a Server. If materialize is nil, incoming commands skip
// on-demand restoration (used by tests and by internal/bench's synthetic
// load, which never touches unrestored keys).
func New(store *kvstore.Store, w *wal.WAL, materialize MaterializeFunc) *Server {
	if materialize == nil {
		materialize = func(string, string) error { return nil }
	}
	return &Server{store: store, w: w, materialize: materialize, closed: make(chan struct{})}
}

// ListenAndServe binds addr and serves connections until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("kvserver: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return fmt.Errorf("kvserver: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound listener address, useful when ListenAndServe was
// given port 0 for an ephemeral port (as tests do).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting new connections and waits for in-flight ones to
// finish their current command.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	ln := s.ln
	s.mu.Unlock()

	close(s.closed)
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	// Close the connection when the server closes, so Close's wait ends
	// after the current command instead of when the client disconnects.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.closed:
			conn.Close()
		case <-done:
		}
	}()
	br := bufio.NewReader(conn)

	for {
		frame, err := walframe.Decode(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("kvserver: connection decode error", "error", err)
			}
			return
		}

		reply, err := s.apply(frame)
		if err != nil {
			fmt.Fprintf(conn, "ERR %s\n", err)
			continue
		}
		fmt.Fprintf(conn, "%s\n", reply)
	}
}

// apply dispatches one decoded command, logging mutations to the WAL
// before applying them to the store.
func (s *Server) apply(frame walframe.Frame) (string, error) {
	key := ""
	if len(frame.Args) > 0 {
		key = frame.Args[0]
	}

	switch frame.Command {
	case "GET":
		if err := s.materialize(frame.Command, key); err != nil {
			return "", fmt.Errorf("materialize %q: %w", key, err)
		}
		v, ok := s.store.Get(key)
		if !ok {
			return "(nil)", nil
		}
		return v, nil

	case types.CmdSet:
		if len(frame.Args) < 2 {
			return "", fmt.Errorf("SET requires key and value")
		}
		if err := s.materialize(frame.Command, key); err != nil {
			return "", fmt.Errorf("materialize %q: %w", key, err)
		}
		if err := s.w.Append(types.CmdSet, frame.Args...); err != nil {
			return "", fmt.Errorf("wal append: %w", err)
		}
		s.store.Set(key, frame.Args[1])
		return "OK", nil

	case types.CmdIncr:
		if err := s.materialize(frame.Command, key); err != nil {
			return "", fmt.Errorf("materialize %q: %w", key, err)
		}
		if err := s.w.Append(types.CmdIncr, frame.Args...); err != nil {
			return "", fmt.Errorf("wal append: %w", err)
		}
		return s.store.Incr(key), nil

	case types.CmdDel:
		if err := s.materialize(frame.Command, key); err != nil {
			return "", fmt.Errorf("materialize %q: %w", key, err)
		}
		if err := s.w.Append(types.CmdDel, frame.Args...); err != nil {
			return "", fmt.Errorf("wal append: %w", err)
		}
		s.store.Del(key)
		return "OK", nil

	case types.CmdSetIR:
		// Restorer redo path: applies SET semantics with WAL logging
		// (spec §6), but deliberately skips materialize — this command
		// *is* the materialization.
		if len(frame.Args) < 2 {
			return "", fmt.Errorf("SETIR requires key and value")
		}
		if err := s.w.Append(types.CmdSetIR, frame.Args...); err != nil {
			return "", fmt.Errorf("wal append: %w", err)
		}
		s.store.Set(key, frame.Args[1])
		return "OK", nil

	default:
		return "", fmt.Errorf("unrecognized command %q", frame.Command)
	}
}
