// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const defaultHumanInputTimeout = 120 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newRouter builds the bridge's out-of-band HTTP surface: health, the
// blocking human-input relay, and debug introspection over the session
// store.
func (s *Supervisor) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/human-input", s.handleHumanInput).Methods(http.MethodPost)
	r.HandleFunc("/debug/sessions/{id}/context", s.handleDebugContext).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions/{id}/logs", s.handleDebugLogs).Methods(http.MethodGet)
	return r
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "agent-bridge",
		"timestamp": time.Now().UTC(),
		"mode":      s.mode,
	})
}

type humanInputRequest struct {
	Prompt    string `json:"prompt"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// handleHumanInput registers a pending request for the session, asks the
// server for an answer over the socket, and blocks until
// session:human_input_response fulfills it or the timeout elapses.
func (s *Supervisor) handleHumanInput(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var body humanInputRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	timeout := defaultHumanInputTimeout
	if body.TimeoutMs > 0 {
		timeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}

	ch := s.humanInput.Register(sessionID)
	s.socket.Emit(sessionID, "session:human_input_request", map[string]any{"prompt": body.Prompt})

	select {
	case value := <-ch:
		writeJSON(w, http.StatusOK, map[string]any{"value": value})
	case <-time.After(timeout):
		s.humanInput.Cancel(sessionID)
		writeJSON(w, http.StatusRequestTimeout, map[string]any{"error": "timed out waiting for human input"})
	}
}

func (s *Supervisor) handleDebugContext(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	snap, ok := s.store.Snapshot(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Supervisor) handleDebugLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	snap, ok := s.store.Snapshot(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events := snap.Events
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "events": events})
}
