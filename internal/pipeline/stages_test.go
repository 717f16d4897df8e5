// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/bridge/internal/sessionctx"
)

func TestAcquireLockStageRejectsNonIdleSession(t *testing.T) {
	sctx := sessionctx.New("sess-1", time.Now())
	sctx.Status = sessionctx.StatusStreaming

	frame := &Frame{Ctx: sctx, MessageID: "m1", UserMessage: "hi"}
	err := acquireLockStage{}.Execute(context.Background(), frame, Dependencies{})
	assert.Error(t, err)
}

func TestCheckContextInjectionStageKindsByEditingContext(t *testing.T) {
	cases := []struct {
		name string
		ec   *sessionctx.EditingContext
		want string
	}{
		{"none", nil, "none"},
		{"new", &sessionctx.EditingContext{EntityType: "task"}, "new"},
		{"full", &sessionctx.EditingContext{EntityType: "spec", EntityID: "1"}, "full"},
		{"minimal", &sessionctx.EditingContext{EntityType: "spec", EntityID: "1", ContextInjected: true, LastInjectedEntityID: "1"}, "minimal"},
		{"full-on-entity-change", &sessionctx.EditingContext{EntityType: "spec", EntityID: "2", ContextInjected: true, LastInjectedEntityID: "1"}, "full"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sctx := sessionctx.New("sess-x", time.Now())
			sctx.Status = sessionctx.StatusLocked
			sctx.EditingContext = tc.ec

			frame := &Frame{Ctx: sctx}
			require.NoError(t, checkContextInjectionStage{}.Execute(context.Background(), frame, Dependencies{}))
			assert.Equal(t, tc.want, frame.InjectionKind)
		})
	}
}

func TestFinalizeStageResetsToIdle(t *testing.T) {
	sctx := sessionctx.New("sess-2", time.Now())
	sctx.Status = sessionctx.StatusStreaming

	frame := &Frame{Ctx: sctx}
	require.NoError(t, finalizeStage{}.Execute(context.Background(), frame, Dependencies{}))
	assert.Equal(t, sessionctx.StatusIdle, sctx.Status)
	assert.Nil(t, sctx.CurrentMessage)
	assert.Empty(t, sctx.Queue.Inbound)
}
