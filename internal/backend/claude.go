// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/json"
)

// claudeStreamEvent is a parsed NDJSON line from `claude --output-format
// stream-json`, grounded on the teacher's StreamEvent struct.
type claudeStreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
	Usage     *claudeUsage    `json:"usage,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	ContextLimit int `json:"context_limit,omitempty"`
}

type claudeMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type claudeStdinEnvelope struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Message   claudeStdinInner `json:"message"`
}

type claudeStdinInner struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Claude is the descriptor for Anthropic's claude CLI: stdin-driven,
// stream-json output, resumable via --resume <session_id>.
var Claude = Backend{
	Name:   "claude",
	Binary: "claude",
	Capabilities: Capabilities{
		SessionResume:    true,
		StreamJSON:       true,
		ToolUse:          true,
		ModelSelection:   true,
		WorkingDirectory: true,
	},
	StdinDriven: true,

	BuildArgv: func(cfg SessionConfig, baseArgs []string) []string {
		argv := append([]string{}, baseArgs...)
		argv = append(argv,
			"--output-format", "stream-json",
			"--verbose",
			"--input-format", "stream-json",
			"--permission-prompt-tool", "stdio",
			"--include-partial-messages",
		)
		if !cfg.RunAsPrivileged {
			argv = append(argv, "--permission-mode", "default")
		}
		if cfg.Model != "" {
			argv = append(argv, "--model", cfg.Model)
		}
		if cfg.WorkDir != "" {
			argv = append(argv, "--add-dir", cfg.WorkDir)
		}
		for _, dir := range cfg.MountDirs {
			argv = append(argv, "--add-dir", dir)
		}
		if len(cfg.AllowedTools) > 0 {
			argv = append(argv, "--allowedTools", joinComma(cfg.AllowedTools))
		}
		if cfg.SystemPrompt != "" {
			argv = append(argv, "--append-system-prompt", cfg.SystemPrompt)
		}
		if cfg.ResumeBackendID != "" {
			argv = append(argv, "--resume", cfg.ResumeBackendID)
		}
		if len(cfg.Subagents) > 0 {
			argv = append(argv, "--agents", string(cfg.Subagents))
		}
		argv = append(argv, cfg.ExtraArgs...)
		return argv
	},

	BuildEnv: func(cfg SessionConfig, baseEnv []string) []string {
		env := FilterEnv(baseEnv)
		env = append(env, "CLAUDE_BRIDGE_SESSION_ID="+cfg.SessionID)
		if cfg.TaskID != "" {
			env = append(env, "CLAUDE_BRIDGE_TASK_ID="+cfg.TaskID)
			if cfg.ForegroundTask {
				env = append(env, "CLAUDE_BRIDGE_FOREGROUND=1")
			}
		}
		if cfg.UserID != "" {
			env = append(env, "CLAUDE_BRIDGE_USER_ID="+cfg.UserID)
		}
		return env
	},

	FormatInput: func(msg Message) []byte {
		env := claudeStdinEnvelope{
			Type: "user",
			Message: claudeStdinInner{
				Role:    msg.Role,
				Content: msg.Content,
			},
		}
		data, _ := json.Marshal(env)
		return append(data, '\n')
	},

	ParseLine: func(line []byte) (*ParsedMessage, error) {
		var ev claudeStreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil // unparseable lines are silently skipped
		}

		switch ev.Type {
		case "system":
			if ev.SessionID != "" {
				return &ParsedMessage{Kind: "init", SessionID: ev.SessionID, Raw: line}, nil
			}
			return nil, nil
		case "assistant", "user":
			var m claudeMessage
			if len(ev.Message) > 0 {
				_ = json.Unmarshal(ev.Message, &m)
			}
			return &ParsedMessage{Kind: "text", Content: m.Content, Raw: line}, nil
		case "result":
			p := &ParsedMessage{Kind: "result", Result: ev.Result, IsError: ev.IsError, Errors: ev.Errors, Raw: line}
			if ev.Usage != nil && ev.Usage.ContextLimit > 0 {
				pct := float64(ev.Usage.InputTokens+ev.Usage.OutputTokens) / float64(ev.Usage.ContextLimit) * 100
				p.ContextUsage = &struct {
					Used    int
					Total   int
					Percent float64
				}{
					Used:    ev.Usage.InputTokens + ev.Usage.OutputTokens,
					Total:   ev.Usage.ContextLimit,
					Percent: pct,
				}
			}
			return p, nil
		default:
			return nil, nil
		}
	},

	IsComplete: func(p *ParsedMessage) bool {
		return p != nil && p.Kind == "result"
	},

	ExtractContent: func(p *ParsedMessage) (string, bool) {
		if p == nil || p.Kind != "text" {
			return "", false
		}
		var text string
		for _, b := range p.Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		return text, text != ""
	},

	ExtractToolUses: func(p *ParsedMessage) []ToolUse {
		if p == nil {
			return nil
		}
		var uses []ToolUse
		for _, b := range p.Content {
			if b.Type == "tool_use" {
				uses = append(uses, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
			}
		}
		return uses
	},

	ExtractToolResults: func(p *ParsedMessage) []ToolResult {
		if p == nil {
			return nil
		}
		var results []ToolResult
		for _, b := range p.Content {
			if b.Type == "tool_result" {
				results = append(results, ToolResult{ToolUseID: b.ToolUseID, Output: b.Content})
			}
		}
		return results
	},

	ExtractThinking: func(p *ParsedMessage) (string, bool) {
		if p == nil {
			return "", false
		}
		for _, b := range p.Content {
			if b.Type == "thinking" {
				return b.Text, true
			}
		}
		return "", false
	},
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
