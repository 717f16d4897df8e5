// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs the ordered stage sequence (C6/C7) that turns one
// inbound user message into a streamed assistant reply: acquire-lock,
// check-context-injection, inject-context, stream-response, finalize.
// Each stage gets its own timeout and a SessionContext it mutates in
// place; any stage failure halts the turn, marks the session Error, and
// clears its concurrency state so no waiter is left stranded.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/bridgeerr"
	"github.com/agentbridge/bridge/internal/concurrency"
	"github.com/agentbridge/bridge/internal/contextbuilder"
	"github.com/agentbridge/bridge/internal/logging"
	"github.com/agentbridge/bridge/internal/pool"
	"github.com/agentbridge/bridge/internal/sessionctx"
)

// Emitter forwards a pipeline event out to the connected server, e.g. over
// the socket connection manager (C10). Implementations must not block the
// pipeline; a slow Emit should buffer or drop rather than stall a stage.
type Emitter interface {
	Emit(sessionID, eventType string, payload map[string]any)
}

// NoopEmitter discards every event; useful in tests and for a pipeline run
// before the supervisor has a live connection to emit through.
type NoopEmitter struct{}

func (NoopEmitter) Emit(string, string, map[string]any) {}

// Dependencies bundles the shared collaborators a stage needs. BackendName
// and Config are resolved once per turn by the caller (the message
// handler), since they can vary per session but not per stage.
type Dependencies struct {
	Pool           *pool.Pool
	ContextBuilder *contextbuilder.Builder
	Concurrency    *concurrency.Manager
	Store          *sessionctx.Store
	Emit           Emitter

	BackendName string
	Config      backend.SessionConfig

	// StreamTimeout overrides the stream-response stage's timeout; zero
	// uses defaultStreamTimeout.
	StreamTimeout time.Duration
}

func (d Dependencies) emit() Emitter {
	if d.Emit == nil {
		return NoopEmitter{}
	}
	return d.Emit
}

// Frame carries one turn's scratch state alongside the persistent
// SessionContext it flows through. Fields here never survive past the
// turn that produced them.
type Frame struct {
	Ctx             *sessionctx.SessionContext
	MessageID       string
	UserMessage     string
	InjectionKind   string // "none" | "full" | "minimal" | "new", set by check-context-injection
	InjectedMessage string // set by inject-context, consumed by stream-response
}

// Stage is one step of the message pipeline.
type Stage interface {
	Name() string
	Timeout(deps Dependencies) time.Duration
	Execute(ctx context.Context, frame *Frame, deps Dependencies) error
}

// DefaultStages returns the spec's fixed stage order: acquire-lock,
// check-context-injection, inject-context, stream-response, finalize.
func DefaultStages() []Stage {
	return []Stage{
		acquireLockStage{},
		checkContextInjectionStage{},
		injectContextStage{},
		streamResponseStage{},
		finalizeStage{},
	}
}

// Pipeline runs Stages in order over a Frame, persisting the SessionContext
// after each stage and unwinding cleanly on failure.
type Pipeline struct {
	Stages []Stage
	log    *logging.Logger
}

// New creates a Pipeline running the default stage order.
func New() *Pipeline {
	return &Pipeline{Stages: DefaultStages(), log: logging.New("pipeline")}
}

// Run executes every stage against frame in order. On success every stage
// has committed its SessionContext changes to deps.Store and frame.Ctx
// ends back in StatusIdle (finalize passes through StatusComplete and
// resets it). A stage that changes frame.Ctx.SessionID fails the run. On
// failure the session is marked Error, its
// concurrency state is cleared, and the first failing stage's error is
// returned wrapped in a *bridgeerr.StageError.
func (p *Pipeline) Run(ctx context.Context, frame *Frame, deps Dependencies) error {
	sessionID := frame.Ctx.SessionID
	deps.emit().Emit(sessionID, "pipeline:start", map[string]any{"messageId": frame.MessageID})

	for _, stage := range p.Stages {
		deps.emit().Emit(sessionID, "stage:"+stage.Name()+":start", map[string]any{"stage": stage.Name()})
		stageCtx, cancel := context.WithTimeout(ctx, stage.Timeout(deps))
		err := stage.Execute(stageCtx, frame, deps)
		cancel()
		if err == nil && frame.Ctx.SessionID != sessionID {
			err = fmt.Errorf("stage changed sessionId to %q", frame.Ctx.SessionID)
			frame.Ctx.SessionID = sessionID
		}

		if err != nil {
			return p.fail(frame, deps, stage.Name(), err)
		}

		frame.Ctx.AppendEvent("stage:"+stage.Name()+":complete", nil)
		if deps.Store != nil {
			if uErr := deps.Store.Update(frame.Ctx); uErr != nil {
				p.log.Warnf("store update after %s failed: %v", stage.Name(), uErr)
			}
		}
		deps.emit().Emit(sessionID, "stage:"+stage.Name()+":complete", map[string]any{"stage": stage.Name()})
	}

	deps.emit().Emit(sessionID, "pipeline:complete", map[string]any{"messageId": frame.MessageID})
	return nil
}

func (p *Pipeline) fail(frame *Frame, deps Dependencies, stageName string, cause error) error {
	frame.Ctx.SetStatus(sessionctx.StatusError)
	frame.Ctx.AppendEvent("pipeline:error", map[string]any{
		"stage": stageName,
		"error": cause.Error(),
	})
	if deps.Store != nil {
		if uErr := deps.Store.Update(frame.Ctx); uErr != nil {
			p.log.Warnf("store update after %s failure failed: %v", stageName, uErr)
		}
	}
	if deps.Concurrency != nil {
		deps.Concurrency.ClearSession(frame.Ctx.SessionID)
	}
	deps.emit().Emit(frame.Ctx.SessionID, "pipeline:error", map[string]any{
		"stage":      stageName,
		"error":      cause.Error(),
		"haltReason": string(bridgeerr.HaltReasonFor(cause)),
	})
	return &bridgeerr.StageError{Stage: stageName, Err: cause}
}
