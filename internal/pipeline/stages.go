// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentbridge/bridge/internal/bridgeerr"
	"github.com/agentbridge/bridge/internal/clisession"
	"github.com/agentbridge/bridge/internal/sessionctx"
)

const (
	acquireLockTimeout           = 30 * time.Second
	checkContextInjectionTimeout = 5 * time.Second
	injectContextTimeout         = 10 * time.Second
	defaultStreamTimeout         = 120 * time.Second
	finalizeTimeout              = 5 * time.Second
)

// acquireLockStage marks the turn's SessionContext Locked and records the
// inbound message. The FIFO wait itself happens one layer up, in the
// concurrency manager, before the pipeline ever runs; this stage only
// records that the turn now owns the session.
type acquireLockStage struct{}

func (acquireLockStage) Name() string { return "acquire-lock" }
func (acquireLockStage) Timeout(Dependencies) time.Duration { return acquireLockTimeout }

func (acquireLockStage) Execute(_ context.Context, frame *Frame, _ Dependencies) error {
	if frame.Ctx.Status == sessionctx.StatusError {
		// A failed previous turn leaves the record in Error; a new turn
		// starts over from Idle, like finalize's turn-boundary reset.
		frame.Ctx.Status = sessionctx.StatusIdle
	}
	if !frame.Ctx.SetStatus(sessionctx.StatusLocked) {
		return fmt.Errorf("cannot acquire lock from status %s", frame.Ctx.Status)
	}
	msg := sessionctx.ChatMessage{
		ID:        frame.MessageID,
		Content:   frame.UserMessage,
		Role:      "user",
		CreatedAt: frame.Ctx.LastActivityAt,
	}
	frame.Ctx.CurrentMessage = &msg
	frame.Ctx.Queue.Inbound = append(frame.Ctx.Queue.Inbound, msg)
	return nil
}

// checkContextInjectionStage decides whether this turn needs a full
// editing-context block, a one-line minimal reminder, a new-entity
// schema hint, or nothing, and records the decision on EditingContext so
// a full block is injected again only when the entity id differs from the
// one last injected for.
type checkContextInjectionStage struct{}

func (checkContextInjectionStage) Name() string { return "check-context-injection" }
func (checkContextInjectionStage) Timeout(Dependencies) time.Duration {
	return checkContextInjectionTimeout
}

func (checkContextInjectionStage) Execute(_ context.Context, frame *Frame, _ Dependencies) error {
	if !frame.Ctx.SetStatus(sessionctx.StatusInjecting) {
		return fmt.Errorf("cannot begin injection from status %s", frame.Ctx.Status)
	}

	ec := frame.Ctx.EditingContext
	switch {
	case ec == nil || ec.EntityType == "":
		frame.InjectionKind = "none"
	case ec.EntityID == "":
		frame.InjectionKind = "new"
	case !ec.ContextInjected || ec.LastInjectedEntityID != ec.EntityID:
		frame.InjectionKind = "full"
		ec.ContextInjected = true
		ec.LastInjectedEntityID = ec.EntityID
	default:
		frame.InjectionKind = "minimal"
	}
	return nil
}

// injectContextStage builds the actual message text sent to the backend,
// per the decision recorded by checkContextInjectionStage.
type injectContextStage struct{}

func (injectContextStage) Name() string { return "inject-context" }
func (injectContextStage) Timeout(Dependencies) time.Duration { return injectContextTimeout }

func (injectContextStage) Execute(ctx context.Context, frame *Frame, deps Dependencies) error {
	ec := frame.Ctx.EditingContext
	switch frame.InjectionKind {
	case "full":
		frame.InjectedMessage = deps.ContextBuilder.BuildFull(ctx, ec.EntityType, ec.EntityID, frame.UserMessage)
	case "minimal":
		frame.InjectedMessage = deps.ContextBuilder.BuildMinimal(ec.EntityType, ec.EntityID, frame.UserMessage)
	case "new":
		frame.InjectedMessage = deps.ContextBuilder.BuildNewEntity(ec.EntityType, frame.UserMessage)
	default:
		frame.InjectedMessage = frame.UserMessage
	}
	if frame.Ctx.CurrentMessage != nil {
		frame.Ctx.CurrentMessage.Content = frame.InjectedMessage
	}
	return nil
}

// streamResponseStage spawns (or reuses) the session's CLI child and
// drains its event stream, mirroring each event into the SessionContext
// audit trail and out through the emitter, until the turn completes or
// the backend reports an error.
type streamResponseStage struct{}

func (streamResponseStage) Name() string { return "stream-response" }

func (streamResponseStage) Timeout(deps Dependencies) time.Duration {
	if deps.StreamTimeout > 0 {
		return deps.StreamTimeout
	}
	return defaultStreamTimeout
}

func (streamResponseStage) Execute(ctx context.Context, frame *Frame, deps Dependencies) error {
	if !frame.Ctx.SetStatus(sessionctx.StatusStreaming) {
		return fmt.Errorf("cannot start streaming from status %s", frame.Ctx.Status)
	}

	sess, err := deps.Pool.GetOrCreate(frame.Ctx.SessionID, deps.BackendName, deps.Config)
	if err != nil {
		return err
	}

	events, err := sess.StreamMessages(ctx, frame.InjectedMessage)
	if err != nil {
		return err
	}

	var reply strings.Builder
	sessionID := frame.Ctx.SessionID
	replyID := uuid.NewString()

	for ev := range events {
		switch ev.Kind {
		case string(clisession.EventInit):
			frame.Ctx.BackendSessionID = ev.BackendSessionID
			frame.Ctx.AppendEvent("assistant:init", map[string]any{"backendSessionId": ev.BackendSessionID})

		case string(clisession.EventText):
			reply.WriteString(ev.Text)
			deps.emit().Emit(sessionID, "session:response", map[string]any{"messageId": frame.MessageID, "message": map[string]any{
				"id": replyID, "content": ev.Text, "role": "assistant", "streaming": true, "createdAt": frame.Ctx.LastActivityAt,
			}})

		case string(clisession.EventThinking):
			deps.emit().Emit(sessionID, "session:thinking", map[string]any{"text": ev.Text})

		case string(clisession.EventToolUse):
			frame.Ctx.AppendEvent("assistant:tool_use", map[string]any{"tools": ev.ToolUses})
			deps.emit().Emit(sessionID, "session:tool_use", map[string]any{"tools": ev.ToolUses})

		case string(clisession.EventToolResult):
			frame.Ctx.AppendEvent("assistant:tool_result", map[string]any{"results": ev.ToolResults})
			deps.emit().Emit(sessionID, "session:tool_use", map[string]any{"results": ev.ToolResults})

		case string(clisession.EventResult):
			if ev.IsError {
				return streamErr(ctx, deps, fmt.Errorf("backend reported an error result: %s", ev.Text))
			}
			if ev.ContextUsage != nil && ev.ContextUsage.ContextUsage != nil {
				cu := ev.ContextUsage.ContextUsage
				frame.Ctx.ContextUsage = &sessionctx.ContextUsage{Used: cu.Used, Total: cu.Total, Percent: cu.Percent}
			}
			if reply.Len() == 0 {
				reply.WriteString(ev.Text)
			}

		case string(clisession.EventError):
			return streamErr(ctx, deps, ev.Err)
		}
	}

	frame.Ctx.Queue.Outbound = append(frame.Ctx.Queue.Outbound, sessionctx.ChatMessage{
		ID:        replyID,
		Content:   reply.String(),
		Role:      "assistant",
		CreatedAt: frame.Ctx.LastActivityAt,
	})
	return nil
}

// streamErr reclassifies a subprocess-level error as a timeout when the
// stage's own deadline is what actually killed the child, since
// exec.CommandContext surfaces that as an ordinary process-exit error.
func streamErr(ctx context.Context, deps Dependencies, cause error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &bridgeerr.CLITimeoutError{
			Phase:     "stream-response",
			TimeoutMs: streamResponseStage{}.Timeout(deps).Milliseconds(),
		}
	}
	return cause
}

// finalizeStage closes out the turn: clears the inbound queue, marks the
// SessionContext Complete, then resets it to Idle so the next turn's
// acquire-lock stage has somewhere legal to transition from. The reset is
// a direct field assignment rather than a SetStatus call since Complete
// -> Idle is a turn-boundary reset, not a pipeline-stage transition.
type finalizeStage struct{}

func (finalizeStage) Name() string { return "finalize" }
func (finalizeStage) Timeout(Dependencies) time.Duration { return finalizeTimeout }

func (finalizeStage) Execute(_ context.Context, frame *Frame, _ Dependencies) error {
	if !frame.Ctx.SetStatus(sessionctx.StatusFinalizing) {
		return fmt.Errorf("cannot finalize from status %s", frame.Ctx.Status)
	}
	frame.Ctx.Queue.Inbound = nil
	frame.Ctx.CurrentMessage = nil

	if !frame.Ctx.SetStatus(sessionctx.StatusComplete) {
		return fmt.Errorf("cannot complete from status %s", frame.Ctx.Status)
	}
	frame.Ctx.AppendEvent("turn:complete", nil)
	frame.Ctx.Status = sessionctx.StatusIdle
	return nil
}
