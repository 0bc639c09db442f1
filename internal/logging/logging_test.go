// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("verbose", "", nil); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jimmy.log")

	log, err := New("debug", path, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("hello")
	if err := log.Sync(); err != nil {
		// Sync on stderr can fail on some platforms; the file core matters.
		t.Logf("sync: %v", err)
	}
}

func TestSuppressedNames(t *testing.T) {
	c := &suppressCore{names: []string{"web", "bot.ollama"}}

	tests := []struct {
		name string
		want bool
	}{
		{"web", true},
		{"web.bridge", true},
		{"website", false},
		{"bot.ollama", true},
		{"bot", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := c.suppressed(tt.name); got != tt.want {
			t.Errorf("suppressed(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSuppressThresholdIsWarn(t *testing.T) {
	if zapcore.InfoLevel >= zapcore.WarnLevel {
		t.Fatal("sanity: info must sort below warn")
	}
}
