// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

// NewCustom builds a pass-through descriptor for a CLI binary not
// natively known to the bridge: argv is exactly ExtraArgs, stdin carries
// the raw message text, and every stdout line is surfaced verbatim as
// text (no structured completion detection — the CLI session relies on
// process exit, same as Ollama).
func NewCustom(name, binaryPath string) Backend {
	return Backend{
		Name:         name,
		Binary:       binaryPath,
		Capabilities: Capabilities{},
		StdinDriven:  true,

		BuildArgv: func(cfg SessionConfig, baseArgs []string) []string {
			argv := append([]string{}, baseArgs...)
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
}
