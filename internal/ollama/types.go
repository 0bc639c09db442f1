// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strings"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message sent to the backend.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
	// Images holds base64-encoded image payloads for multimodal models.
	Images []string `json:"images,omitempty"`
}

// Options contains model parameters for inference.
type Options struct {
	// Seed makes generation reproducible where the backend honours it.
	Seed int64 `json:"seed,omitempty"`

	// Sampling parameters
	Temperature   float64 `json:"temperature,omitempty"`    // 0.0-2.0, default 0.8
	TopK          int     `json:"top_k,omitempty"`          // Default 40
	TopP          float64 `json:"top_p,omitempty"`          // 0.0-1.0, default 0.9
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"` // Default 1.1

	// NumCtx is the context window size.
	NumCtx int `json:"num_ctx,omitempty"`
}

// ChatPayload is the request body for the /api/chat endpoint.
type ChatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// showRequest is the request body for /api/show.
type showRequest struct {
	Name string `json:"name"`
}

// pullRequest is the request body for /api/pull.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// STREAM EVENT TYPES
// =============================================================================

// ChatEvent is one decoded line of a streaming /api/chat response. Content
// deltas arrive in Message.Content; the final event has Done set and carries
// the timing and token counters when the backend reports them.
type ChatEvent struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Context    []int  `json:"context,omitempty"`

	// Counters, nanoseconds / token counts, final event only.
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// PullEvent is one decoded line of a streaming /api/pull response.
// Completed and Total are optional; many status lines carry neither.
type PullEvent struct {
	Status    string `json:"status"`
	Completed *int64 `json:"completed,omitempty"`
	Total     *int64 `json:"total,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent computes download progress from the completed/total pair. Events
// that carry neither field report the indeterminate midpoint, 50.0.
func (e *PullEvent) Percent() float64 {
	if e.Completed == nil || e.Total == nil || *e.Total <= 0 {
		return 50.0
	}
	return float64(*e.Completed) / float64(*e.Total) * 100.0
}

// apiError is the error body the backend returns on non-2xx statuses.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// MODEL NAMES
// =============================================================================

// NormalizeModel lowercases a model id and applies the default "latest" tag
// when none is present: "Llama2" becomes "llama2:latest".
func NormalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return model
	}
	if !strings.Contains(model, ":") {
		model += ":latest"
	}
	return model
}
