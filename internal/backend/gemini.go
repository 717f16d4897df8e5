// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import "encoding/json"

// geminiEvent is gemini's NDJSON line shape: flatter than Claude's, no
// nested message envelope.
type geminiEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	SID     string `json:"sessionId,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Gemini is the descriptor for Google's gemini CLI: the message is a
// positional argv argument rather than stdin, and stdin is closed
// immediately after spawn.
var Gemini = Backend{
	Name:   "gemini",
	Binary: "gemini",
	Capabilities: Capabilities{
		SessionResume:    true,
		StreamJSON:       true,
		ToolUse:          true,
		ModelSelection:   true,
		WorkingDirectory: true,
	},
	StdinDriven: false,

	BuildArgv: func(cfg SessionConfig, baseArgs []string) []string {
		argv := append([]string{}, baseArgs...)
		argv = append(argv, "--output-format", "json")
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
		env := FilterEnv(baseEnv)
		return append(env, "GEMINI_BRIDGE_SESSION_ID="+cfg.SessionID)
	},

	FormatInput: func(msg Message) []byte {
		var text string
		for _, b := range msg.Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		return []byte(text)
	},

	ParseLine: func(line []byte) (*ParsedMessage, error) {
		var ev geminiEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil
		}
		switch {
		case ev.SID != "" && ev.Type == "init":
			return &ParsedMessage{Kind: "init", SessionID: ev.SID, Raw: line}, nil
		case ev.Error != "":
			return &ParsedMessage{Kind: "result", IsError: true, Errors: []string{ev.Error}, Raw: line}, nil
		case ev.Done:
			return &ParsedMessage{Kind: "result", Result: ev.Text, Raw: line}, nil
		case ev.Text != "":
			return &ParsedMessage{Kind: "text", Content: []ContentBlock{{Type: "text", Text: ev.Text}}, Raw: line}, nil
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
