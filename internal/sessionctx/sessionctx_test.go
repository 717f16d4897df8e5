// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventCapDropsOldest(t *testing.T) {
	ctx := New("s1", time.Now())
	for i := 0; i < 600; i++ {
		ctx.AppendEvent("tick", map[string]any{"i": i})
	}
	assert.Len(t, ctx.Events, EventCap)
	assert.Equal(t, 100, ctx.Events[0].Data["i"])
	assert.Equal(t, 599, ctx.Events[len(ctx.Events)-1].Data["i"])
}

func TestStatusTransitions(t *testing.T) {
	ctx := New("s1", time.Now())
	assert.True(t, ctx.SetStatus(StatusLocked))
	assert.True(t, ctx.SetStatus(StatusInjecting))
	assert.True(t, ctx.SetStatus(StatusStreaming))
	assert.True(t, ctx.SetStatus(StatusFinalizing))
	assert.True(t, ctx.SetStatus(StatusComplete))
	assert.False(t, ctx.SetStatus(StatusLocked), "no transitions out of complete")
}

func TestStatusCanAlwaysErrorExceptFromComplete(t *testing.T) {
	for _, from := range []Status{StatusIdle, StatusLocked, StatusInjecting, StatusStreaming, StatusFinalizing, StatusError} {
		assert.True(t, CanTransition(from, StatusError), "from %s", from)
	}
	assert.False(t, CanTransition(StatusComplete, StatusError))
}

func TestStatusRejectsSkippingSteps(t *testing.T) {
	ctx := New("s1", time.Now())
	assert.False(t, ctx.SetStatus(StatusStreaming), "cannot skip locked/injecting")
	assert.Equal(t, StatusIdle, ctx.Status)
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := New("s1", time.Now())
	ctx.CurrentMessage = &ChatMessage{ID: "m1", Content: "hi"}
	clone := ctx.Clone()
	clone.CurrentMessage.Content = "changed"
	assert.Equal(t, "hi", ctx.CurrentMessage.Content)
}
