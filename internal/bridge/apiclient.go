// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError mirrors the server's error envelope, grounded on the teacher's
// pkg/client.APIError shape.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// APIClient is the bridge's outbound HTTP client to the server: entity
// fetches for context injection, and session status updates.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a client against baseURL (e.g. cfg.APIBaseURL).
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{baseURL: baseURL, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Fetch implements contextbuilder.EntityFetcher by GETting
// /api/{entityType}s/{entityId}.
func (c *APIClient) Fetch(ctx context.Context, entityType, entityID string) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/%ss/%s", entityType, entityID), nil)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", entityType, entityID, err)
	}
	return values, nil
}

// SetRunning implements messagehandler.StatusUpdater by PATCHing the
// session's status to RUNNING.
func (c *APIClient) SetRunning(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"status": "RUNNING"})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/sessions/%s/status", sessionID), bytes.NewReader(body))
	return err
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// apiResponse is the server's standard response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// parseResponse unwraps the data/error envelope, falling back to the raw
// body for endpoints that don't use it.
func (c *APIClient) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}

	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if resp.StatusCode >= 400 {
		var errData APIError
		if json.Unmarshal(envelope.Data, &errData) == nil && errData.Code != "" {
			return nil, &errData
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return envelope.Data, nil
}
