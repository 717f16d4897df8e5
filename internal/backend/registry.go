// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"sync"

	"github.com/agentbridge/bridge/internal/bridgeerr"
)

// Registry is a static, name-keyed table of Backend descriptors.
// Unknown backend names fail fast with bridgeerr.ErrUnknownBackend.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns a Registry pre-populated with the built-in
// backends: claude, gemini, codex, ollama.
func NewRegistry() *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range []Backend{Claude, Gemini, Codex, Ollama} {
		r.backends[b.Name] = b
	}
	return r
}

// Register adds or replaces a backend descriptor, used for the "custom"
// pass-through backend or test doubles.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name] = b
}

// Get returns the descriptor for name, or bridgeerr.ErrUnknownBackend.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, bridgeerr.ErrUnknownBackend
	}
	return b, nil
}

// Names returns every registered backend name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}
