// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a single chat backend.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrModelMissing indicates /api/show answered 404 for the requested model.
// The model can usually be pulled.
var ErrModelMissing = errors.New("model not present on server")

// HTTPError is a non-success backend response, carrying the raw body
// (size-capped) for diagnosis.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.Status, e.StatusText)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.StatusText, e.Body)
}

// maxErrorBody caps how much of an error response body is retained.
const maxErrorBody = 4000

// newHTTPError drains up to maxErrorBody bytes of resp's body into an error.
func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// probeTimeout bounds the liveness probe.
const probeTimeout = 10 * time.Second

// Client talks to one backend. It is safe for concurrent use; streaming
// calls open their own timeout-free HTTP client scoped to the request
// context, so a long generation never trips the request timeout.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a client for the backend rooted at baseURL.
func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// BaseURL returns the backend root this client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckServer reports whether the backend answers its model-list endpoint
// within the probe timeout. Connection errors and timeouts mean "offline",
// never an error.
func (c *Client) CheckServer(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("liveness probe failed", zap.String("base_url", c.baseURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ShowModel checks whether the backend has the named model. Returns nil when
// present, ErrModelMissing on 404, and an *HTTPError (body included) for any
// other non-success status. Connection errors are returned as-is.
func (c *Client) ShowModel(ctx context.Context, name string) error {
	body, err := json.Marshal(showRequest{Name: name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connection error while checking for model: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrModelMissing
	case resp.StatusCode == http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return newHTTPError(resp)
	}
}

// Pull starts a streaming model download. The caller consumes progress
// events via Stream.NextPull and must Close the stream.
func (c *Client) Pull(ctx context.Context, name string) (*Stream, error) {
	body, err := json.Marshal(pullRequest{Name: name, Stream: true})
	if err != nil {
		return nil, err
	}
	return c.openStream(ctx, "/api/pull", body)
}

// ChatStream starts a streaming chat generation. The caller consumes delta
// events via Stream.NextChat and must Close the stream.
func (c *Client) ChatStream(ctx context.Context, payload ChatPayload) (*Stream, error) {
	payload.Stream = true
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.openStream(ctx, "/api/chat", body)
}

// openStream POSTs body to path and wraps the response body in a Stream.
// A dedicated client without timeout is used; lifetime is governed by ctx.
func (c *Client) openStream(ctx context.Context, path string, body []byte) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		// Prefer the backend's own error message when the body carries one.
		herr := newHTTPError(resp)
		var ae apiError
		if json.Unmarshal([]byte(herr.Body), &ae) == nil && ae.Error != "" {
			herr.Body = ae.Error
		}
		return nil, herr
	}

	return newStream(resp.Body, c.log), nil
}
