// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiHandler(t *testing.T, data any, statusCode int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func apiErrorHandler(code, message string, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": code, "message": message},
		})
	}
}

func TestAPIClientFetchDecodesEnvelopeData(t *testing.T) {
	srv := httptest.NewServer(apiHandler(t, map[string]any{"title": "Widget A"}, http.StatusOK))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	values, err := c.Fetch(context.Background(), "issue", "issue-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget A", values["title"])
}

func TestAPIClientFetchReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(apiErrorHandler("not_found", "no such issue", http.StatusNotFound))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	_, err := c.Fetch(context.Background(), "issue", "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestAPIClientSetRunningSendsPatch(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	require.NoError(t, c.SetRunning(context.Background(), "sess-1"))

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/sessions/sess-1/status", gotPath)
	assert.Equal(t, "RUNNING", gotBody["status"])
}

func TestAPIClientFetchNonJSONErrorBodySurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	_, err := c.Fetch(context.Background(), "issue", "issue-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
