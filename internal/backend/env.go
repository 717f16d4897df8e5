// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import "strings"

// sensitiveEnvKeys lists exact variable names whose values (credentials
// for unrelated services) are kept from
// leaking into a spawned CLI child, grounded on the reference
// agent-bridge provider's filterEnv.
var sensitiveEnvKeys = map[string]bool{
	"AWS_SECRET_ACCESS_KEY":  true,
	"AWS_SESSION_TOKEN":      true,
	"SLACK_BOT_TOKEN":        true,
	"SLACK_SIGNING_SECRET":   true,
	"DISCORD_TOKEN":          true,
}

// FilterEnv returns env with sensitive entries removed and CLAUDECODE
// unset, so the bridge can launch claude as a managed subprocess even
// when the bridge itself is running inside a claude-managed shell.
func FilterEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, found := strings.Cut(kv, "=")
		if !found {
			out = append(out, kv)
			continue
		}
		if sensitiveEnvKeys[key] || key == "CLAUDECODE" {
			continue
		}
		out = append(out, kv)
	}
	return out
}
