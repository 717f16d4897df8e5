// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import "encoding/json"

// codexEvent mirrors codex's NDJSON event shape, similar in spirit to
// Claude's but with a simpler top-level "msg" field.
type codexEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg,omitempty"`
	SID  string `json:"thread_id,omitempty"`
}

// Codex is the descriptor for OpenAI's codex CLI.
var Codex = Backend{
	Name:   "codex",
	Binary: "codex",
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
		argv = append(argv, "exec", "--json")
		if cfg.Model != "" {
			argv = append(argv, "--model", cfg.Model)
		}
		if cfg.ResumeBackendID != "" {
			argv = append(argv, "--resume", cfg.ResumeBackendID)
		}
		argv = append(argv, cfg.ExtraArgs...)
		return argv
	},

	BuildEnv: func(cfg SessionConfig, baseEnv []string) []string {
		return append(FilterEnv(baseEnv), "CODEX_BRIDGE_SESSION_ID="+cfg.SessionID)
	},

	FormatInput: func(msg Message) []byte {
		var text string
		for _, b := range msg.Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		data, _ := json.Marshal(map[string]string{"prompt": text})
		return append(data, '\n')
	},

	ParseLine: func(line []byte) (*ParsedMessage, error) {
		var ev codexEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil
		}
		switch ev.Type {
		case "thread.started":
			return &ParsedMessage{Kind: "init", SessionID: ev.SID, Raw: line}, nil
		case "turn.completed":
			return &ParsedMessage{Kind: "result", Result: ev.Msg, Raw: line}, nil
		case "turn.failed":
			return &ParsedMessage{Kind: "result", IsError: true, Errors: []string{ev.Msg}, Raw: line}, nil
		case "item.completed":
			return &ParsedMessage{Kind: "text", Content: []ContentBlock{{Type: "text", Text: ev.Msg}}, Raw: line}, nil
		default:
			return nil, nil
		}
	},

	IsComplete: func(p *ParsedMessage) bool { return p != nil && p.Kind == "result" },

	ExtractContent: func(p *ParsedMessage) (string, bool) {
		if p == nil || p.Kind != "text" || len(p.Content) == 0 {
			return "", false
		}
		return p.Content[0].Text, true
	},
	ExtractToolUses:    func(p *ParsedMessage) []ToolUse { return nil },
	ExtractToolResults: func(p *ParsedMessage) []ToolResult { return nil },
	ExtractThinking:    func(p *ParsedMessage) (string, bool) { return "", false },
}

// Ollama is the descriptor for a local ollama model runner: no
// credentials, no session resume, no tool use.
var Ollama = Backend{
	Name:   "ollama",
	Binary: "ollama",
	Capabilities: Capabilities{
		WorkingDirectory: false,
	},
	StdinDriven: true,

	BuildArgv: func(cfg SessionConfig, baseArgs []string) []string {
		argv := append([]string{}, baseArgs...)
		argv = append(argv, "run")
		if cfg.Model != "" {
			argv = append(argv, cfg.Model)
		}
		return append(argv, cfg.ExtraArgs...)
	},

	BuildEnv: func(cfg SessionConfig, baseEnv []string) []string {
		return FilterEnv(baseEnv)
	},

	FormatInput: func(msg Message) []byte {
		var text string
		for _, b := range msg.Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		return append([]byte(text), '\n')
	},

	ParseLine: func(line []byte) (*ParsedMessage, error) {
		if len(line) == 0 {
			return nil, nil
		}
		return &ParsedMessage{Kind: "text", Content: []ContentBlock{{Type: "text", Text: string(line)}}, Raw: line}, nil
	},

	// ollama has no structured completion marker on stdout; completion
	// is detected by the CLI session observing process exit instead.
	IsComplete: func(p *ParsedMessage) bool { return false },

	ExtractContent: func(p *ParsedMessage) (string, bool) {
		if p == nil || len(p.Content) == 0 {
			return "", false
		}
		return p.Content[0].Text, true
	},
	ExtractToolUses:    func(p *ParsedMessage) []ToolUse { return nil },
	ExtractToolResults: func(p *ParsedMessage) []ToolResult { return nil },
	ExtractThinking:    func(p *ParsedMessage) (string, bool) { return "", false },
}
