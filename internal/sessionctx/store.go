// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionctx

import (
	"sync"
	"time"

	"github.com/agentbridge/bridge/internal/bridgeerr"
	"github.com/agentbridge/bridge/internal/logging"
)

// Clock lets tests inject deterministic timestamps; time.Now in production.
type Clock func() time.Time

// Store is the in-memory map of sessionId -> *SessionContext, grounded on
// the bounded, read-only-query idiom of the teacher's event history
// store but adapted to hold one mutable record per session rather than
// an append-only log.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionContext
	clock    Clock
	log      *logging.Logger

	// StalenessThreshold is how long a non-idle/non-complete session may
	// sit without activity before GetBadSessions reports it. Defaults to
	// 5 minutes.
	StalenessThreshold time.Duration
}

// NewStore creates an empty session-context store.
func NewStore() *Store {
	return &Store{
		sessions:           make(map[string]*SessionContext),
		clock:              time.Now,
		log:                logging.New("sessionctx"),
		StalenessThreshold: 5 * time.Minute,
	}
}

// WithClock overrides the store's time source (tests only).
func (s *Store) WithClock(c Clock) *Store {
	s.clock = c
	return s
}

// GetOrCreate returns the existing record for sessionID, or creates a
// fresh idle one.
func (s *Store) GetOrCreate(sessionID string) *SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.sessions[sessionID]; ok {
		return ctx
	}
	ctx := New(sessionID, s.clock())
	s.sessions[sessionID] = ctx
	return ctx
}

// Get returns the record for sessionID, and whether it existed.
func (s *Store) Get(sessionID string) (*SessionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.sessions[sessionID]
	return ctx, ok
}

// Update stores ctx as the current record for its session id. It fails
// with bridgeerr.ErrSessionNotFound if the session was never created via
// GetOrCreate — this catches lost-write bugs early. If the caller's ctx
// pointer differs from the stored record, a warning is logged (potential
// shadow copy) but the update still proceeds and the submitted pointer
// replaces the stored one.
func (s *Store) Update(ctx *SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[ctx.SessionID]
	if !ok {
		return bridgeerr.ErrSessionNotFound
	}
	if existing != ctx {
		s.log.Warnf("update for %s submitted a context with a different identity than the stored record", ctx.SessionID)
	}
	ctx.LastActivityAt = s.clock()
	s.sessions[ctx.SessionID] = ctx
	return nil
}

// Delete removes a session's record entirely (explicit session:stop).
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Snapshot returns a read-only copy of the named session's record, for
// the /debug/sessions/:id/context HTTP surface.
func (s *Store) Snapshot(sessionID string) (*SessionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return ctx.Clone(), true
}

// GetBadSessions returns every session in Error status, or in any
// non-idle/non-complete status whose LastActivityAt is older than
// StalenessThreshold. Read-only; feeds monitoring, no side effects.
func (s *Store) GetBadSessions() []*SessionContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var bad []*SessionContext
	for _, ctx := range s.sessions {
		if ctx.Status == StatusError {
			bad = append(bad, ctx.Clone())
			continue
		}
		if ctx.Status != StatusIdle && ctx.Status != StatusComplete {
			if now.Sub(ctx.LastActivityAt) > s.StalenessThreshold {
				bad = append(bad, ctx.Clone())
			}
		}
	}
	return bad
}
