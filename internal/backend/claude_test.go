// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeParseLineInit(t *testing.T) {
	p, err := Claude.ParseLine([]byte(`{"type":"system","session_id":"cli-abc"}`))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "init", p.Kind)
	assert.Equal(t, "cli-abc", p.SessionID)
}

func TestClaudeParseLineAssistantText(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}`)
	p, err := Claude.ParseLine(line)
	require.NoError(t, err)
	content, ok := Claude.ExtractContent(p)
	assert.True(t, ok)
	assert.Equal(t, "hello", content)
}

func TestClaudeParseLineResult(t *testing.T) {
	line := []byte(`{"type":"result","result":"done","usage":{"input_tokens":50,"output_tokens":50,"context_limit":200000}}`)
	p, err := Claude.ParseLine(line)
	require.NoError(t, err)
	assert.True(t, Claude.IsComplete(p))
	require.NotNil(t, p.ContextUsage)
	assert.Equal(t, 100, p.ContextUsage.Used)
	assert.Equal(t, 200000, p.ContextUsage.Total)
}

func TestClaudeParseLineUnparseableIsSilentlySkipped(t *testing.T) {
	p, err := Claude.ParseLine([]byte(`not json`))
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestClaudeBuildArgvIncludesResume(t *testing.T) {
	cfg := SessionConfig{SessionID: "s1", ResumeBackendID: "cli-123", Model: "claude-sonnet"}
	argv := Claude.BuildArgv(cfg, nil)
	assert.Contains(t, argv, "--resume")
	assert.Contains(t, argv, "cli-123")
	assert.Contains(t, argv, "--model")
	assert.Contains(t, argv, "claude-sonnet")
}

func TestClaudeBuildEnvFiltersSensitiveKeys(t *testing.T) {
	cfg := SessionConfig{SessionID: "s1"}
	env := Claude.BuildEnv(cfg, []string{"AWS_SECRET_ACCESS_KEY=x", "PATH=/bin", "CLAUDECODE=1"})
	for _, kv := range env {
		assert.NotContains(t, kv, "AWS_SECRET_ACCESS_KEY")
		assert.NotContains(t, kv, "CLAUDECODE=1")
	}
	assert.Contains(t, env, "PATH=/bin")
}

func TestGeminiPositionalInput(t *testing.T) {
	data := Gemini.FormatInput(Message{Content: []ContentBlock{{Type: "text", Text: "hi"}}})
	assert.Equal(t, "hi", string(data))
	assert.False(t, Gemini.StdinDriven)
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nonexistent")
	assert.Error(t, err)
}

func TestRegistryKnownBackends(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"claude", "gemini", "codex", "ollama"} {
		b, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name)
	}
}
