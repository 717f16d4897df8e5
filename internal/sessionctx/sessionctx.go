// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionctx defines the pure-data SessionContext record threaded
// through the message pipeline, and the in-memory store that owns it.
package sessionctx

import "time"

// Status is the SessionContext state machine. Transitions only move
// forward through the happy path, or sideways to Error from any state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusLocked      Status = "locked"
	StatusInjecting   Status = "injecting"
	StatusStreaming   Status = "streaming"
	StatusFinalizing  Status = "finalizing"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// forwardTransitions lists the only Status a given Status may advance to
// along the happy path. Error is always reachable and is not listed here;
// callers check it separately.
var forwardTransitions = map[Status]Status{
	StatusIdle:       StatusLocked,
	StatusLocked:     StatusInjecting,
	StatusInjecting:  StatusStreaming,
	StatusStreaming:  StatusFinalizing,
	StatusFinalizing: StatusComplete,
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// SessionContext status transition: one step forward along the happy
// path, or sideways to Error from any non-terminal state.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return from != StatusComplete
	}
	return forwardTransitions[from] == to
}

// ChatMessage is one turn's worth of content, either the user's inbound
// message or the assistant's outbound reply.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	Streaming bool      `json:"streaming"`
	CreatedAt time.Time `json:"createdAt"`
}

// EditingContext records whether the UI indicated the user is editing a
// specific entity, and which entity the last full context block was
// injected for, so a change of entity (even mid-session) triggers a fresh
// full injection instead of falling through to the minimal reminder.
type EditingContext struct {
	EntityType           string `json:"entityType"`
	EntityID             string `json:"entityId,omitempty"`
	ContextInjected      bool   `json:"contextInjected"`
	LastInjectedEntityID string `json:"lastInjectedEntityId,omitempty"`
}

// ContextUsage is reported by the streaming stage when the CLI surfaces
// token accounting.
type ContextUsage struct {
	Used    int     `json:"used"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Event is one entry in a SessionContext's bounded audit trail.
type Event struct {
	Type      string         `json:"type"`
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventCap is the maximum number of Events retained per SessionContext;
// beyond it, the oldest events are dropped, never the newest.
const EventCap = 500

// MessageQueue holds per-turn inbound/outbound buffers. Inbound is
// cleared by the finalize stage on success; outbound holds the final
// assistant message produced this turn.
type MessageQueue struct {
	Inbound  []ChatMessage `json:"inbound"`
	Outbound []ChatMessage `json:"outbound"`
}

// SessionContext is the single pure-data record threaded through the
// pipeline. sessionID never mutates after creation; any stage that
// changes it is a bug.
type SessionContext struct {
	SessionID        string          `json:"sessionId"`
	Status           Status          `json:"status"`
	CurrentMessage   *ChatMessage    `json:"currentMessage,omitempty"`
	BackendSessionID string          `json:"backendSessionId,omitempty"`
	EditingContext   *EditingContext `json:"editingContext,omitempty"`
	Queue            MessageQueue    `json:"queue"`
	Events           []Event         `json:"events"`
	ContextUsage     *ContextUsage   `json:"contextUsage,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastActivityAt   time.Time       `json:"lastActivityAt"`
}

// New creates an idle SessionContext for sessionID at the given time.
func New(sessionID string, now time.Time) *SessionContext {
	return &SessionContext{
		SessionID:      sessionID,
		Status:         StatusIdle,
		Queue:          MessageQueue{},
		Events:         make([]Event, 0, 8),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep-enough copy of ctx for read-only callers (the
// store's Snapshot and GetBadSessions): slices and pointer fields are
// copied so the copy does not share them with the stored record.
func (ctx *SessionContext) Clone() *SessionContext {
	clone := *ctx
	if ctx.CurrentMessage != nil {
		cm := *ctx.CurrentMessage
		clone.CurrentMessage = &cm
	}
	if ctx.EditingContext != nil {
		ec := *ctx.EditingContext
		clone.EditingContext = &ec
	}
	if ctx.ContextUsage != nil {
		cu := *ctx.ContextUsage
		clone.ContextUsage = &cu
	}
	clone.Queue.Inbound = append([]ChatMessage(nil), ctx.Queue.Inbound...)
	clone.Queue.Outbound = append([]ChatMessage(nil), ctx.Queue.Outbound...)
	clone.Events = append([]Event(nil), ctx.Events...)
	return &clone
}

// AppendEvent appends an audit-trail entry, dropping the oldest entry
// first whenever the log is already at EventCap.
func (ctx *SessionContext) AppendEvent(eventType string, data map[string]any) {
	ev := Event{
		Type:      eventType,
		Status:    ctx.Status,
		Timestamp: ctx.LastActivityAt,
		Data:      data,
	}
	if len(ctx.Events) >= EventCap {
		ctx.Events = append(ctx.Events[1:], ev)
		return
	}
	ctx.Events = append(ctx.Events, ev)
}

// SetStatus validates and applies a status transition. It returns false
// (without mutating ctx) if the transition is illegal.
func (ctx *SessionContext) SetStatus(to Status) bool {
	if !CanTransition(ctx.Status, to) {
		return false
	}
	ctx.Status = to
	return true
}
