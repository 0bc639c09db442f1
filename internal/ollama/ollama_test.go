// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// =============================================================================
// MODEL NAME TESTS
// =============================================================================

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"llama2", "llama2:latest"},
		{"llama2:7b-chat", "llama2:7b-chat"},
		{"LLaVA", "llava:latest"},
		{"  Mistral:LATEST  ", "mistral:latest"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeModel(tt.input); got != tt.want {
			t.Errorf("NormalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// PULL EVENT TESTS
// =============================================================================

func TestPullEventPercent(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }

	tests := []struct {
		name  string
		event PullEvent
		want  float64
	}{
		{"both fields", PullEvent{Status: "downloading", Completed: i64(50), Total: i64(100)}, 50.0},
		{"complete", PullEvent{Completed: i64(10), Total: i64(10)}, 100.0},
		{"missing both", PullEvent{Status: "verifying sha256 digest"}, 50.0},
		{"missing total", PullEvent{Completed: i64(10)}, 50.0},
		{"zero total", PullEvent{Completed: i64(0), Total: i64(0)}, 50.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func newTestStream(body string) *Stream {
	return newStream(io.NopCloser(strings.NewReader(body)), zap.NewNop())
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	body := `{"message":{"content":"a"},"done":false}
this is not json {{{
{"message":{"content":"b"},"done":false}

{"message":{"content":"c"},"done":true}
`
	s := newTestStream(body)
	defer s.Close()

	var contents []string
	for {
		event, err := s.NextChat()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextChat failed: %v", err)
		}
		contents = append(contents, event.Message.Content)
		if event.Done {
			break
		}
	}

	want := []string{"a", "b", "c"}
	if len(contents) != len(want) {
		t.Fatalf("decoded %d events (%v), want %d", len(contents), contents, len(want))
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("event %d content = %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestStreamInvalidUTF8(t *testing.T) {
	// Invalid bytes inside a JSON string are substituted, leaving the line
	// parseable rather than fatal.
	s := newTestStream("{\"status\":\"ok\"}\n\xff\xfe\n{\"status\":\"done\"}\n")
	defer s.Close()

	first, err := s.NextPull()
	if err != nil {
		t.Fatalf("NextPull failed: %v", err)
	}
	if first.Status != "ok" {
		t.Errorf("status = %q", first.Status)
	}

	second, err := s.NextPull()
	if err != nil {
		t.Fatalf("NextPull failed: %v", err)
	}
	if second.Status != "done" {
		t.Errorf("status = %q, want done (garbage line skipped)", second.Status)
	}
}

func TestStreamEOFWithoutTrailingNewline(t *testing.T) {
	s := newTestStream(`{"status":"only"}`)
	defer s.Close()

	event, err := s.NextPull()
	if err != nil {
		t.Fatalf("NextPull failed: %v", err)
	}
	if event.Status != "only" {
		t.Errorf("status = %q", event.Status)
	}
	if _, err := s.NextPull(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestCheckServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("probe hit %q, want /api/tags", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	if !c.CheckServer(context.Background()) {
		t.Error("CheckServer = false for healthy server")
	}
}

func TestCheckServerOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, zap.NewNop())
	if c.CheckServer(context.Background()) {
		t.Error("CheckServer = true for closed server")
	}
}

func TestShowModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(readBody(r), "present") {
			w.Write([]byte(`{"details":{}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())

	if err := c.ShowModel(context.Background(), "present:latest"); err != nil {
		t.Errorf("ShowModel(present) = %v, want nil", err)
	}
	if err := c.ShowModel(context.Background(), "absent:latest"); !errors.Is(err, ErrModelMissing) {
		t.Errorf("ShowModel(absent) = %v, want ErrModelMissing", err)
	}
}

func TestShowModelBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	err := c.ShowModel(context.Background(), "m:latest")

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("err = %T (%v), want *HTTPError", err, err)
	}
	if herr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d", herr.Status)
	}
	if !strings.Contains(herr.Body, "backend exploded") {
		t.Errorf("Body = %q, raw body missing", herr.Body)
	}
}

func TestChatStreamSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid option"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.ChatStream(context.Background(), ChatPayload{Model: "m"})

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("err = %T, want *HTTPError", err)
	}
	if herr.Body != "invalid option" {
		t.Errorf("Body = %q, want backend error message", herr.Body)
	}
}

func TestChatStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"hel"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":"lo"},"done":true,"eval_count":2,"total_duration":1000}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	stream, err := c.ChatStream(context.Background(), ChatPayload{
		Model:    "m:latest",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		event, err := stream.NextChat()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextChat failed: %v", err)
		}
		buf.WriteString(event.Message.Content)
		if event.Done {
			if event.EvalCount != 2 {
				t.Errorf("EvalCount = %d, want 2", event.EvalCount)
			}
			break
		}
	}
	if buf.String() != "hello" {
		t.Errorf("accumulated = %q, want hello", buf.String())
	}
}

func readBody(r *http.Request) string {
	data, _ := io.ReadAll(r.Body)
	return string(data)
}
