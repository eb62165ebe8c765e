// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the backend base URL (e.g. "http://inventory:8080").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client talks to the inventory backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given backend.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("restapi: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("restapi: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SearchUnits runs the paginated search query.
func (c *Client) SearchUnits(ctx context.Context, request SearchRequest) (*Page, error) {
	var page Page
	if err := c.call(ctx, http.MethodPost, "/api/units/search", request, &page); err != nil {
		return nil, fmt.Errorf("restapi: searching units: %w", err)
	}
	return &page, nil
}

// CreateUnit registers a new unit and returns the stored record with
// server-assigned fields (id, unit code, registration time).
func (c *Client) CreateUnit(ctx context.Context, request CreateUnitRequest) (*Unit, error) {
	var unit Unit
	if err := c.call(ctx, http.MethodPost, "/api/units", request, &unit); err != nil {
		return nil, fmt.Errorf("restapi: creating unit: %w", err)
	}
	return &unit, nil
}

// UpdateUnit mutates an existing unit by id and returns the stored
// record.
func (c *Client) UpdateUnit(ctx context.Context, id string, request UpdateUnitRequest) (*Unit, error) {
	var unit Unit
	if err := c.call(ctx, http.MethodPut, "/api/units/"+url.PathEscape(id), request, &unit); err != nil {
		return nil, fmt.Errorf("restapi: updating unit %s: %w", id, err)
	}
	return &unit, nil
}

// DeleteUnit removes a unit by id.
func (c *Client) DeleteUnit(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/api/units/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("restapi: deleting unit %s: %w", id, err)
	}
	return nil
}

// call performs one request and decodes the backend's result
// envelope. On non-2xx status or success=false it returns *APIError.
// out may be nil when the caller has no use for the data payload.
func (c *Client) call(ctx context.Context, method, path string, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	// Every backend response, success or failure, uses the same
	// envelope. Decode the data payload lazily so failures with a
	// null data field don't trip the typed decode.
	var envelope result[json.RawMessage]
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 || !envelope.Success {
		return &APIError{
			StatusCode: response.StatusCode,
			Message:    envelope.Message,
		}
	}

	if out != nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decoding %s %s response data: %w", method, path, err)
		}
	}
	return nil
}
