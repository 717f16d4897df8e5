// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package clisession

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/bridge/internal/backend"
)

// echoBackend is a minimal test descriptor that drives /bin/sh to echo a
// fixed NDJSON transcript, exercising the real spawn/read/complete path
// without depending on any actual CLI binary being installed.
func echoBackend(t *testing.T) backend.Backend {
	t.Helper()
	b := backend.NewCustom("echo-backend", "/bin/sh")
	b.StdinDriven = true
	b.BuildArgv = func(cfg backend.SessionConfig, baseArgs []string) []string {
		return []string{"-c", `printf '{"type":"init","session_id":"cli-echo-1"}\n{"type":"text","text":"hi"}\n{"type":"result","result":"done"}\n'`}
	}
	b.ParseLine = func(line []byte) (*backend.ParsedMessage, error) {
		switch {
		case bytes.Contains(line, []byte(`"type":"init"`)):
			return &backend.ParsedMessage{Kind: "init", SessionID: "cli-echo-1"}, nil
		case bytes.Contains(line, []byte(`"type":"result"`)):
			return &backend.ParsedMessage{Kind: "result", Result: "done"}, nil
		case bytes.Contains(line, []byte(`"type":"text"`)):
			return &backend.ParsedMessage{Kind: "text", Content: []backend.ContentBlock{{Type: "text", Text: "hi"}}}, nil
		default:
			return nil, nil
		}
	}
	b.IsComplete = func(p *backend.ParsedMessage) bool { return p != nil && p.Kind == "result" }
	b.ExtractContent = func(p *backend.ParsedMessage) (string, bool) {
		if p == nil || p.Kind != "text" {
			return "", false
		}
		return p.Content[0].Text, true
	}
	return b
}

func TestStreamMessagesCapturesResumeIDAndCompletes(t *testing.T) {
	s := New("sess-1", echoBackend(t), backend.SessionConfig{SessionID: "sess-1"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := s.StreamMessages(ctx, "hello")
	require.NoError(t, err)

	var sawInit, sawText, sawResult bool
	for ev := range events {
		switch ev.Kind {
		case string(EventInit):
			sawInit = true
			assert.Equal(t, "cli-echo-1", ev.BackendSessionID)
		case string(EventText):
			sawText = true
		case string(EventResult):
			sawResult = true
			assert.Equal(t, "done", ev.Text)
		}
	}

	assert.True(t, sawInit)
	assert.True(t, sawText)
	assert.True(t, sawResult)
	assert.Equal(t, "cli-echo-1", s.BackendSessionID())
}

func TestRingBufferDropsOldest(t *testing.T) {
	rb := newRingBuffer(2)
	rb.Add("a")
	rb.Add("b")
	rb.Add("c")
	assert.Equal(t, "b\nc", rb.String())
}

func TestCloseIdempotentWhenNeverStarted(t *testing.T) {
	s := New("sess-2", echoBackend(t), backend.SessionConfig{SessionID: "sess-2"}, nil)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
