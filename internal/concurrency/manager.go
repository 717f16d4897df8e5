// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package concurrency implements the per-session FIFO lock with
// race-safe hand-off: releasing a turn's lock and handing it to the next
// waiter happens atomically, so no caller ever observes the session as
// briefly idle while a waiter is pending.
package concurrency

import (
	"github.com/agentbridge/bridge/internal/bridgeerr"
)

// MessageData is the minimal identity of a turn competing for a
// session's lock.
type MessageData struct {
	MessageID string
	Content   string
}

type waiter struct {
	data MessageData
	done chan error
}

type sessionState struct {
	processing          bool
	processingMessageID string
	pending             []*waiter
}

// Manager tracks per-session concurrency state. All mutation happens
// under a single mutex rather than per-session locks: session counts are
// modest and a single critical section makes FIFO ordering and
// cross-session isolation trivially correct, grounded on the teacher's
// single-mutex Manager pattern in internal/claude/manager.go.
type Manager struct {
	mu       chan struct{} // binary semaphore; see lock()/unlock() below
	sessions map[string]*sessionState
}

// New creates an empty concurrency manager.
func New() *Manager {
	m := &Manager{
		mu:       make(chan struct{}, 1),
		sessions: make(map[string]*sessionState),
	}
	m.mu <- struct{}{}
	return m
}

func (m *Manager) lock()   { <-m.mu }
func (m *Manager) unlock() { m.mu <- struct{}{} }

func (m *Manager) stateFor(sessionID string) *sessionState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}
	return st
}

// AcquireLock attempts to acquire the lock for sessionID on behalf of
// data. If the session is idle, the lock is acquired immediately and the
// returned channel is nil. If the session is busy, data is queued FIFO
// and the returned channel closes (with a possible error, e.g.
// bridgeerr.ErrSessionCleared) once this message is handed the lock.
func (m *Manager) AcquireLock(sessionID string, data MessageData) (acquired bool, waitCh <-chan error) {
	m.lock()
	defer m.unlock()

	st := m.stateFor(sessionID)
	if !st.processing {
		st.processing = true
		st.processingMessageID = data.MessageID
		return true, nil
	}

	w := &waiter{data: data, done: make(chan error, 1)}
	st.pending = append(st.pending, w)
	return false, w.done
}

// ReleaseLock releases sessionID's lock. If waiters are queued, the lock
// is handed to the head of the queue without ever marking the session
// idle in between — processing stays true throughout the hand-off.
func (m *Manager) ReleaseLock(sessionID string) {
	m.lock()
	defer m.unlock()

	st, ok := m.sessions[sessionID]
	if !ok || !st.processing {
		return
	}

	if len(st.pending) == 0 {
		st.processing = false
		st.processingMessageID = ""
		return
	}

	next := st.pending[0]
	st.pending = st.pending[1:]
	st.processingMessageID = next.data.MessageID
	next.done <- nil
	close(next.done)
}

// ClearSession abandons every waiter queued for sessionID, delivering
// bridgeerr.ErrSessionCleared to each, and drops all state for it. Used
// on pipeline fail-fast and on explicit session:stop. Idempotent: calling
// it on an already-cleared or unknown session is a no-op.
func (m *Manager) ClearSession(sessionID string) {
	m.lock()
	defer m.unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for _, w := range st.pending {
		w.done <- bridgeerr.ErrSessionCleared
		close(w.done)
	}
	delete(m.sessions, sessionID)
}

// IsProcessing reports whether sessionID currently holds its lock.
func (m *Manager) IsProcessing(sessionID string) bool {
	m.lock()
	defer m.unlock()
	st, ok := m.sessions[sessionID]
	return ok && st.processing
}

// QueueLength reports how many waiters are queued for sessionID.
func (m *Manager) QueueLength(sessionID string) int {
	m.lock()
	defer m.unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(st.pending)
}

// GetActiveMessageIds aggregates every in-flight processingMessageID plus
// every queued messageId, across all sessions. This feeds the bridge
// heartbeat.
func (m *Manager) GetActiveMessageIds() []string {
	m.lock()
	defer m.unlock()

	var ids []string
	for _, st := range m.sessions {
		if st.processing && st.processingMessageID != "" {
			ids = append(ids, st.processingMessageID)
		}
		for _, w := range st.pending {
			ids = append(ids, w.data.MessageID)
		}
	}
	return ids
}
