// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package contextbuilder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubFetcher struct {
	values map[string]any
	err    error
}

func (s stubFetcher) Fetch(context.Context, string, string) (map[string]any, error) {
	return s.values, s.err
}

func TestBuildFullIncludesToolsAndValues(t *testing.T) {
	b := New(stubFetcher{values: map[string]any{"title": "Widget"}})
	out := b.BuildFull(context.Background(), "spec", "spec-1", "change the title")

	assert.Contains(t, out, "# Editing: spec spec-1")
	assert.Contains(t, out, "spec_get, spec_update, spec_create")
	assert.Contains(t, out, `"title": "Widget"`)
	assert.True(t, strings.HasSuffix(out, "change the title"))
}

func TestBuildFullFallsBackOnFetchError(t *testing.T) {
	b := New(stubFetcher{err: errors.New("unreachable")})
	out := b.BuildFull(context.Background(), "task", "task-9", "mark done")

	assert.Contains(t, out, `"id": "task-9"`)
	assert.Contains(t, out, `"type": "task"`)
}

func TestBuildMinimalIsOneLinePrefix(t *testing.T) {
	b := New(stubFetcher{})
	out := b.BuildMinimal("document", "doc-2", "add a section")
	assert.Equal(t, "[editing: document/doc-2]\nadd a section", out)
}

func TestBuildNewEntityIncludesSchemaHints(t *testing.T) {
	b := New(stubFetcher{})
	out := b.BuildNewEntity("task", "add a task for Q3 planning")

	assert.Contains(t, out, "# Creating a new task")
	assert.Contains(t, out, "title, description, status")
	assert.True(t, strings.HasSuffix(out, "add a task for Q3 planning"))
}

func TestCompactJSONStripsMetadataAndTruncates(t *testing.T) {
	values := map[string]any{
		"_metadata": map[string]any{"internal": true},
		"createdBy": "system",
		"name":      strings.Repeat("x", maxStringLen+50),
		"tags":      []any{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"},
	}
	out := compactJSON(values)

	assert.NotContains(t, out, "_metadata")
	assert.NotContains(t, out, "createdBy")
	assert.Contains(t, out, "…")
	assert.Contains(t, out, "(2 more)")
}
