// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package contextbuilder produces the full or minimal editing-context
// prefix injected ahead of a user's message when the UI indicates they
// are editing a specific entity (C8). It holds no state of its own;
// entity values are fetched through an injected API client.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentbridge/bridge/internal/logging"
)

// EntityFetcher fetches the current values of an entity for inclusion in
// a full context block. Implementations call out to the server-side API
// the bridge itself does not own.
type EntityFetcher interface {
	Fetch(ctx context.Context, entityType, entityID string) (map[string]any, error)
}

// toolsByEntity maps an entity type to the MCP tool names an agent can
// use to read/write it.
var toolsByEntity = map[string][]string{
	"spec":     {"spec_get", "spec_update", "spec_create"},
	"document": {"document_get", "document_update", "document_create"},
	"task":     {"task_get", "task_update", "task_create"},
}

// schemaHints gives a new-entity agent the required fields to gather
// before calling create.
var schemaHints = map[string][]string{
	"spec":     {"title", "body"},
	"document": {"title", "content"},
	"task":     {"title", "description", "status"},
}

// Builder constructs editing-context prefixes.
type Builder struct {
	fetcher EntityFetcher
	log     *logging.Logger
}

// New creates a Builder that fetches entity values through fetcher.
func New(fetcher EntityFetcher) *Builder {
	return &Builder{fetcher: fetcher, log: logging.New("contextbuilder")}
}

// BuildFull produces the titled markdown block: entity summary, tool
// list, compacted JSON of current values, guideline bullets, then the
// user message.
func (b *Builder) BuildFull(ctx context.Context, entityType, entityID, userMessage string) string {
	values, err := b.fetcher.Fetch(ctx, entityType, entityID)
	if err != nil {
		b.log.Warnf("fetch %s/%s failed: %v", entityType, entityID, err)
		values = map[string]any{"id": entityID, "type": entityType}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Editing: %s %s\n\n", entityType, entityID)

	if tools, ok := toolsByEntity[entityType]; ok {
		fmt.Fprintf(&sb, "Available tools: %s\n\n", strings.Join(tools, ", "))
	}

	sb.WriteString("Current values:\n```json\n")
	sb.WriteString(compactJSON(values))
	sb.WriteString("\n```\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("- use update — UI will refresh\n")
	sb.WriteString("- only include changed fields\n")
	sb.WriteString("- send full content, not diffs\n\n")

	sb.WriteString(userMessage)
	return sb.String()
}

// BuildMinimal produces the single-line prefix used on every turn after
// the first full injection for the same entity.
func (b *Builder) BuildMinimal(entityType, entityID, userMessage string) string {
	return fmt.Sprintf("[editing: %s/%s]\n%s", entityType, entityID, userMessage)
}

// BuildNewEntity produces schema hints plus the user message, for an
// entity that does not exist yet.
func (b *Builder) BuildNewEntity(entityType, userMessage string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Creating a new %s\n\n", entityType)
	if fields, ok := schemaHints[entityType]; ok {
		fmt.Fprintf(&sb, "Required fields: %s\n\n", strings.Join(fields, ", "))
	}
	sb.WriteString("Gather these from the user before calling create.\n\n")
	sb.WriteString(userMessage)
	return sb.String()
}

const (
	maxStringLen  = 200
	maxArrayItems = 10
)

// compactJSON renders values as JSON with metadata keys stripped, long
// strings truncated, and long arrays truncated with an "(N more)" tail.
func compactJSON(values map[string]any) string {
	compacted := compactValue(values)
	data, err := json.MarshalIndent(compacted, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

var metadataKeys = map[string]bool{
	"_metadata": true, "__meta": true, "createdBy": true, "updatedBy": true,
}

func compactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if metadataKeys[k] {
				continue
			}
			out[k] = compactValue(v)
		}
		return out
	case []any:
		items := val
		tail := 0
		if len(items) > maxArrayItems {
			tail = len(items) - maxArrayItems
			items = items[:maxArrayItems]
		}
		out := make([]any, 0, len(items)+1)
		for _, item := range items {
			out = append(out, compactValue(item))
		}
		if tail > 0 {
			out = append(out, fmt.Sprintf("(%d more)", tail))
		}
		return out
	case string:
		if len(val) > maxStringLen {
			return val[:maxStringLen] + "…"
		}
		return val
	default:
		return val
	}
}
