// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package messagehandler implements the entry point for one inbound
// session:message event (C9): validation, lock acquisition, pipeline
// invocation, and translating the outcome into the outbound events the
// server expects.
package messagehandler

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/bridgeerr"
	"github.com/agentbridge/bridge/internal/concurrency"
	"github.com/agentbridge/bridge/internal/contextbuilder"
	"github.com/agentbridge/bridge/internal/logging"
	"github.com/agentbridge/bridge/internal/pipeline"
	"github.com/agentbridge/bridge/internal/pool"
	"github.com/agentbridge/bridge/internal/sessionctx"
)

// StatusUpdater notifies the server that a session has begun processing.
// Implemented over HTTP in production; failures are logged, never fatal.
type StatusUpdater interface {
	SetRunning(ctx context.Context, sessionID string) error
}

// NoopStatusUpdater discards the call, for tests and standalone runs.
type NoopStatusUpdater struct{}

func (NoopStatusUpdater) SetRunning(context.Context, string) error { return nil }

// BackendResolver resolves which backend descriptor and invocation config
// apply to a given session, e.g. from a prior session:start event.
type BackendResolver func(sessionID string) (backendName string, cfg backend.SessionConfig)

// Handler wires together the collaborators needed to process one message.
type Handler struct {
	Store          *sessionctx.Store
	Concurrency    *concurrency.Manager
	Pool           *pool.Pool
	Pipeline       *pipeline.Pipeline
	ContextBuilder *contextbuilder.Builder
	Emit           pipeline.Emitter
	Status         StatusUpdater
	Backends       BackendResolver

	log *logging.Logger
}

// New creates a Handler. Status defaults to NoopStatusUpdater if nil.
func New(store *sessionctx.Store, conc *concurrency.Manager, p *pool.Pool, pl *pipeline.Pipeline, cb *contextbuilder.Builder, emit pipeline.Emitter, status StatusUpdater, backends BackendResolver) *Handler {
	if status == nil {
		status = NoopStatusUpdater{}
	}
	return &Handler{
		Store:          store,
		Concurrency:    conc,
		Pool:           p,
		Pipeline:       pl,
		ContextBuilder: cb,
		Emit:           emit,
		Status:         status,
		Backends:       backends,
		log:            logging.New("messagehandler"),
	}
}

// HandleMessage processes one session:message event end to end. It blocks
// until this turn completes or is abandoned, so callers typically invoke
// it from its own goroutine per inbound event. entityType/entityID carry
// the UI's current editing target for this turn, if any; an empty
// entityType means the user isn't editing a specific entity right now.
func (h *Handler) HandleMessage(ctx context.Context, sessionID, content, messageID, entityType, entityID string) {
	if strings.TrimSpace(content) == "" {
		h.log.Warnf("ignoring empty message for session %s", sessionID)
		return
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	go func() {
		if err := h.Status.SetRunning(ctx, sessionID); err != nil {
			h.log.Warnf("failed to mark session %s running: %v", sessionID, err)
		}
	}()

	acquired, waitCh := h.Concurrency.AcquireLock(sessionID, concurrency.MessageData{MessageID: messageID, Content: content})
	if !acquired {
		if err := <-waitCh; err != nil {
			h.log.Warnf("message %s for session %s abandoned before it could run: %v", messageID, sessionID, err)
			return
		}
	}
	defer h.Concurrency.ReleaseLock(sessionID)

	sctx := h.Store.GetOrCreate(sessionID)
	applyEditingContext(sctx, entityType, entityID)
	backendName, cfg := h.Backends(sessionID)

	frame := &pipeline.Frame{Ctx: sctx, MessageID: messageID, UserMessage: content}
	deps := pipeline.Dependencies{
		Pool:           h.Pool,
		ContextBuilder: h.ContextBuilder,
		Concurrency:    h.Concurrency,
		Store:          h.Store,
		Emit:           h.Emit,
		BackendName:    backendName,
		Config:         cfg,
	}

	if err := h.Pipeline.Run(ctx, frame, deps); err != nil {
		h.handleFailure(ctx, sessionID, messageID, err)
		return
	}
	h.emitFinal(sessionID, messageID, frame.Ctx)
}

// applyEditingContext records the UI's current editing target on sctx
// ahead of the turn. It preserves ContextInjected/LastInjectedEntityID
// across turns on the same entity type so checkContextInjectionStage can
// still tell full injection from minimal; an empty entityType clears the
// editing context entirely, since the UI reports "not editing anything"
// the same way it reports an entity.
func applyEditingContext(sctx *sessionctx.SessionContext, entityType, entityID string) {
	if entityType == "" {
		sctx.EditingContext = nil
		return
	}
	ec := sctx.EditingContext
	if ec == nil || ec.EntityType != entityType {
		ec = &sessionctx.EditingContext{}
	}
	ec.EntityType = entityType
	ec.EntityID = entityID
	sctx.EditingContext = ec
}

func (h *Handler) emitFinal(sessionID, messageID string, sctx *sessionctx.SessionContext) {
	if len(sctx.Queue.Outbound) == 0 {
		h.log.Warnf("pipeline succeeded for %s with no outbound message", sessionID)
		return
	}
	last := sctx.Queue.Outbound[len(sctx.Queue.Outbound)-1]
	h.emit().Emit(sessionID, "session:response", map[string]any{
		"sessionId": sessionID,
		"messageId": messageID,
		"message": map[string]any{
			"id":        last.ID,
			"content":   last.Content,
			"role":      last.Role,
			"streaming": false,
			"createdAt": last.CreatedAt,
		},
	})

	if sctx.ContextUsage != nil {
		h.emit().Emit(sessionID, "session:context_usage", map[string]any{
			"sessionId": sessionID,
			"used":      sctx.ContextUsage.Used,
			"total":     sctx.ContextUsage.Total,
			"percent":   sctx.ContextUsage.Percent,
		})
	}
}

// handleFailure closes the now-unreliable pool session, then emits the
// error/halted/status triad the server expects. A process_exit failure is
// reported as non-resumable and every other halt reason as resumable. The
// next message for the session runs a new turn on a new CLI session, which
// does not carry over the closed session's captured resume id.
func (h *Handler) handleFailure(_ context.Context, sessionID, messageID string, cause error) {
	if err := h.Pool.Close(sessionID); err != nil {
		h.log.Warnf("failed to close pool session %s after pipeline error: %v", sessionID, err)
	}

	haltReason := bridgeerr.HaltReasonFor(cause)
	canResume := haltReason != bridgeerr.HaltProcessExit

	h.emit().Emit(sessionID, "session:error", map[string]any{
		"sessionId": sessionID,
		"error":     cause.Error(),
	})
	h.emit().Emit(sessionID, "session:halted", map[string]any{
		"sessionId":  sessionID,
		"reason":     string(haltReason),
		"canResume":  canResume,
	})
	h.emit().Emit(sessionID, "message:status", map[string]any{
		"messageId": messageID,
		"status":    "failed",
	})
}

func (h *Handler) emit() pipeline.Emitter {
	if h.Emit == nil {
		return pipeline.NoopEmitter{}
	}
	return h.Emit
}
