// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadCacheKey(t *testing.T) {
	a := downloadCacheKey("https://example.com/v", "720p")
	b := downloadCacheKey("https://example.com/v", "1080p")
	if a == b {
		t.Error("different formats must cache under different keys")
	}
	if a != downloadCacheKey("https://example.com/v", "720p") {
		t.Error("cache key is not stable")
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(a))
	}
}

func TestResolveFormat(t *testing.T) {
	if got := resolveFormat(""); got != defaultFormat {
		t.Errorf("resolveFormat(\"\") = %q, want the default selector", got)
	}
	if got := resolveFormat("720p"); got != "22" {
		t.Errorf("resolveFormat(720p) = %q, want 22", got)
	}
	if got := resolveFormat("MP3"); got != "ba[filesize<25M]" {
		t.Errorf("resolveFormat(MP3) = %q, want the mp3 selector", got)
	}
	// Raw selectors pass through untouched.
	if got := resolveFormat("bv+ba"); got != "bv+ba" {
		t.Errorf("resolveFormat(bv+ba) = %q", got)
	}
}

func TestPickDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := pickDownloadedFile(dir); err == nil {
		t.Error("empty directory should be an error")
	}

	if err := os.WriteFile(filepath.Join(dir, "video.mp4.part"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := pickDownloadedFile(dir); err == nil {
		t.Error("a lone .part file should be an error")
	}

	want := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := pickDownloadedFile(dir)
	if err != nil {
		t.Fatalf("pickDownloadedFile() error: %v", err)
	}
	if got != want {
		t.Errorf("pickDownloadedFile() = %q, want %q", got, want)
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		width   int
		height  int
		wantErr bool
	}{
		{"1920x1080", 1920, 1080, false},
		{"800X600", 800, 600, false},
		{"7680x4320", 7680, 4320, false},
		{"7681x4320", 0, 0, true},
		{"0x100", 0, 0, true},
		{"potato", 0, 0, true},
		{"1920", 0, 0, true},
	}
	for _, tt := range tests {
		w, h, err := parseResolution(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseResolution(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && (w != tt.width || h != tt.height) {
			t.Errorf("parseResolution(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.width, tt.height)
		}
	}
}

func TestProgressBar(t *testing.T) {
	filled, empty := "\U0001F7E9", "⬜"

	zero := progressBar(0)
	if strings.Count(zero, empty) != 10 || strings.Count(zero, filled) != 0 {
		t.Errorf("progressBar(0) = %q, want an empty bar", zero)
	}
	half := progressBar(50)
	if strings.Count(half, filled) != 5 || strings.Count(half, empty) != 5 {
		t.Errorf("progressBar(50) = %q, want five filled and five empty", half)
	}
	full := progressBar(100)
	if strings.Count(full, filled) != 10 || !strings.Contains(full, "100.00%") {
		t.Errorf("progressBar(100) = %q, want a full bar", full)
	}
	// Out-of-range percentages clamp rather than panic.
	if over := progressBar(250); strings.Count(over, filled) != 10 {
		t.Errorf("progressBar(250) = %q, want a clamped full bar", over)
	}
	if under := progressBar(-3); strings.Count(under, empty) != 10 {
		t.Errorf("progressBar(-3) = %q, want a clamped empty bar", under)
	}
}
