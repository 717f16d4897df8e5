// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package socketmgr implements the socket connection manager (C10): one
// live connection at a time, safe reconnects, and handler lifecycle
// management, grounded on the teacher's subscribe-before-start pattern in
// internal/api/handlers/claude.go but generalized from per-session
// subscription to connection-level reconnect.
package socketmgr

import (
	"errors"
	"sync"

	"github.com/agentbridge/bridge/internal/logging"
)

// Conn is the subset of *gorilla/websocket.Conn the manager needs,
// narrowed so tests can supply a fake without opening a real socket.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// HandlerFunc handles one named inbound event's raw payload.
type HandlerFunc func(payload []byte)

// ErrNotConnected is returned by Send when no connection is held.
var ErrNotConnected = errors.New("socketmgr: not connected")

// Manager owns at most one live Conn plus the handlers registered against
// it. Connect/Disconnect are idempotent and safe to call from reconnect
// logic driven by the supervisor (C11).
type Manager struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     Conn
	connID   string
	handlers map[string]HandlerFunc
	cleanup  func()
	log      *logging.Logger
}

// New creates an unconnected Manager.
func New() *Manager {
	return &Manager{log: logging.New("socketmgr")}
}

// Connect installs conn as the live connection under identifier,
// registering handlers and stashing cleanupFn for the eventual Disconnect.
// If a different connection is already held, it is disconnected first. If
// the same identifier reconnects, its previous handlers are cleaned up
// before the new set is registered.
func (m *Manager) Connect(conn Conn, identifier string, handlers map[string]HandlerFunc, cleanupFn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.connID != identifier {
			m.log.Warnf("duplicate connection: replacing %s with %s", m.connID, identifier)
		}
		m.disconnectLocked()
	}

	m.conn = conn
	m.connID = identifier
	m.handlers = handlers
	m.cleanup = cleanupFn
	return nil
}

// Disconnect runs the stored cleanup, clears handlers, closes the
// connection if still open, and resets state. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	if m.conn == nil {
		return
	}
	if m.cleanup != nil {
		m.cleanup()
	}
	_ = m.conn.Close()
	m.conn = nil
	m.connID = ""
	m.handlers = nil
	m.cleanup = nil
}

// IsConnected reports whether a connection is currently held.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Dispatch routes an inbound event to its registered handler, if any. It
// reports whether a handler was found and invoked.
func (m *Manager) Dispatch(eventType string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[eventType]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(payload)
	return true
}

// Send writes one event frame to the live connection. Concurrent Sends
// are serialized since gorilla/websocket connections are not safe for
// concurrent writers.
func (m *Manager) Send(eventType string, payload map[string]any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(map[string]any{"type": eventType, "data": payload})
}

// Emit implements pipeline.Emitter: it stamps sessionId onto payload and
// sends it, logging (never panicking) on a write failure such as a
// connection that dropped mid-turn.
func (m *Manager) Emit(sessionID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["sessionId"] = sessionID
	if err := m.Send(eventType, payload); err != nil {
		m.log.Warnf("emit %s for %s failed: %v", eventType, sessionID, err)
	}
}
