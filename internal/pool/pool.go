// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pool implements the assistant pool (C3): a flat map of
// sessionId -> *clisession.Session, created lazily on first send and
// torn down explicitly or all at once on shutdown.
package pool

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/clisession"
	"github.com/agentbridge/bridge/internal/logging"
)

// Pool maps sessionId -> *clisession.Session, grounded on the teacher's
// Manager.sessions map pattern in internal/claude/manager.go.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*clisession.Session
	registry *backend.Registry
	log      *logging.Logger
}

// New creates an empty pool backed by registry for backend lookups.
func New(registry *backend.Registry) *Pool {
	return &Pool{
		sessions: make(map[string]*clisession.Session),
		registry: registry,
		log:      logging.New("pool"),
	}
}

// Start is a no-op marker, present for symmetry with richer pools.
func (p *Pool) Start() {}

// GetOrCreate returns the existing CLI session for sessionID, creating
// one against the named backend if none exists yet.
func (p *Pool) GetOrCreate(sessionID, backendName string, cfg backend.SessionConfig) (*clisession.Session, error) {
	p.mu.RLock()
	existing, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if ok {
		return existing, nil
	}

	be, err := p.registry.Get(backendName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[sessionID]; ok {
		return existing, nil
	}
	sess := clisession.New(sessionID, be, cfg, p.log)
	p.sessions[sessionID] = sess
	return sess, nil
}

// Get returns the existing CLI session for sessionID, if any.
func (p *Pool) Get(sessionID string) (*clisession.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[sessionID]
	return sess, ok
}

// Close closes and removes the CLI session for sessionID, e.g. after a
// pipeline failure so stale line buffers cannot contaminate the next
// turn, or on explicit session:stop.
func (p *Pool) Close(sessionID string) error {
	p.mu.Lock()
	sess, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Close()
}

// Stop closes every CLI session in parallel, ignoring individual
// failures so one slow child cannot block the others from being
// signaled, grounded on the teacher's service.Manager.StopAll parallel
// shutdown pattern.
func (p *Pool) Stop() {
	p.mu.Lock()
	sessions := make([]*clisession.Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.sessions = make(map[string]*clisession.Session)
	p.mu.Unlock()

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			if err := sess.Close(); err != nil {
				p.log.Warnf("close failed during pool stop: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
