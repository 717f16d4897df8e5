// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package messagehandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/concurrency"
	"github.com/agentbridge/bridge/internal/contextbuilder"
	"github.com/agentbridge/bridge/internal/pipeline"
	"github.com/agentbridge/bridge/internal/pool"
	"github.com/agentbridge/bridge/internal/sessionctx"
)

type fakeFetcher struct{}

func (fakeFetcher) Fetch(context.Context, string, string) (map[string]any, error) {
	return map[string]any{}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]any
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{last: make(map[string]map[string]any)}
}

func (r *recordingEmitter) Emit(sessionID, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.last[eventType] = payload
}

func echoBackend() backend.Backend {
	b := backend.NewCustom("echo", "/bin/sh")
	b.BuildArgv = func(backend.SessionConfig, []string) []string {
		return []string{"-c", `printf 'hi there\n'`}
	}
	return b
}

func slowEchoBackend() backend.Backend {
	b := backend.NewCustom("slow-echo", "/bin/sh")
	b.BuildArgv = func(backend.SessionConfig, []string) []string {
		return []string{"-c", `sleep 0.2; printf 'done\n'`}
	}
	return b
}

func failBackend() backend.Backend {
	b := backend.NewCustom("fail", "/bin/sh")
	b.BuildArgv = func(backend.SessionConfig, []string) []string {
		return []string{"-c", `exit 3`}
	}
	return b
}

func newHandler(t *testing.T, be backend.Backend, emit *recordingEmitter) *Handler {
	t.Helper()
	reg := backend.NewRegistry()
	reg.Register(be)
	return New(
		sessionctx.NewStore(),
		concurrency.New(),
		pool.New(reg),
		pipeline.New(),
		contextbuilder.New(fakeFetcher{}),
		emit,
		NoopStatusUpdater{},
		func(string) (string, backend.SessionConfig) { return be.Name, backend.SessionConfig{} },
	)
}

func TestHandleMessageIgnoresEmptyContent(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, echoBackend(), emit)
	h.HandleMessage(context.Background(), "sess-1", "   ", "m1", "", "")
	assert.Empty(t, emit.events)
}

func TestHandleMessageEmitsFinalResponse(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, echoBackend(), emit)
	h.HandleMessage(context.Background(), "sess-1", "hello", "m1", "", "")

	require.Contains(t, emit.events, "session:response")
	payload := emit.last["session:response"]
	assert.Equal(t, "m1", payload["messageId"])
	msg := payload["message"].(map[string]any)
	assert.Contains(t, msg["content"], "hi there")
	assert.Equal(t, false, msg["streaming"])
}

func TestHandleMessageOnFailureEmitsErrorTriad(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, failBackend(), emit)
	h.HandleMessage(context.Background(), "sess-2", "boom", "m1", "", "")

	assert.Contains(t, emit.events, "session:error")
	assert.Contains(t, emit.events, "session:halted")
	assert.Contains(t, emit.events, "message:status")
	assert.False(t, h.Concurrency.IsProcessing("sess-2"))
}

func TestHandleMessageQueuesSecondArrivalUntilFirstCompletes(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, slowEchoBackend(), emit)

	var order []string
	var mu sync.Mutex
	record := func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.HandleMessage(context.Background(), "sess-4", "first", "m1", "", "")
		record("m1")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond) // ensure m1 acquires the lock first
		h.HandleMessage(context.Background(), "sess-4", "second", "m2", "", "")
		record("m2")
	}()
	wg.Wait()

	require.Equal(t, []string{"m1", "m2"}, order)
	assert.False(t, h.Concurrency.IsProcessing("sess-4"))
}

func TestHandleMessageGeneratesMessageIDWhenMissing(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, echoBackend(), emit)
	h.HandleMessage(context.Background(), "sess-3", "hello", "", "", "")

	payload := emit.last["session:response"]
	require.NotNil(t, payload)
	assert.NotEmpty(t, payload["messageId"])
}

func TestHandleMessageReinjectsFullContextOnEntityChangeThenClears(t *testing.T) {
	emit := newRecordingEmitter()
	h := newHandler(t, echoBackend(), emit)

	h.HandleMessage(context.Background(), "sess-5", "look at this", "m1", "spec", "42")
	sctx, ok := h.Store.Get("sess-5")
	require.True(t, ok)
	require.NotNil(t, sctx.EditingContext)
	assert.True(t, sctx.EditingContext.ContextInjected)
	assert.Equal(t, "42", sctx.EditingContext.LastInjectedEntityID)

	h.HandleMessage(context.Background(), "sess-5", "now edit the other one", "m2", "spec", "43")
	assert.Equal(t, "43", sctx.EditingContext.LastInjectedEntityID)

	h.HandleMessage(context.Background(), "sess-5", "just chatting", "m3", "", "")
	assert.Nil(t, sctx.EditingContext)
}
