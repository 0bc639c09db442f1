// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"strings"
	"testing"
)

func TestSplitPages(t *testing.T) {
	t.Run("short text is one page", func(t *testing.T) {
		pages := SplitPages("hello world", 100)
		if len(pages) != 1 || pages[0] != "hello world" {
			t.Errorf("SplitPages() = %v, want single page", pages)
		}
	})

	t.Run("empty text has no pages", func(t *testing.T) {
		if pages := SplitPages("", 100); pages != nil {
			t.Errorf("SplitPages(\"\") = %v, want nil", pages)
		}
	})

	t.Run("splits on word boundaries", func(t *testing.T) {
		text := strings.TrimSpace(strings.Repeat("word ", 100))
		pages := SplitPages(text, 32)
		if len(pages) < 2 {
			t.Fatalf("got %d pages, want several", len(pages))
		}
		for n, page := range pages {
			if len(page) > 32 {
				t.Errorf("page %d is %d chars, over the limit", n, len(page))
			}
			if strings.HasPrefix(page, " ") || strings.HasSuffix(page, " ") {
				t.Errorf("page %d has ragged edges: %q", n, page)
			}
		}
		if rejoined := strings.Join(pages, " "); rejoined != text {
			t.Errorf("pages do not reassemble the input:\n%q\n%q", rejoined, text)
		}
	})

	t.Run("hard cuts oversized words", func(t *testing.T) {
		pages := SplitPages(strings.Repeat("x", 25), 10)
		if len(pages) != 3 {
			t.Fatalf("got %d pages, want 3", len(pages))
		}
		for n, page := range pages {
			if len(page) > 10 {
				t.Errorf("page %d is %d chars, over the limit", n, len(page))
			}
		}
	})
}

func TestCodeBlockPages(t *testing.T) {
	lines := []string{"first", "second", strings.Repeat("long ", 500)}
	pages := codeBlockPages(lines)
	if len(pages) < 2 {
		t.Fatalf("got %d pages, want at least 2", len(pages))
	}
	for n, page := range pages {
		if !strings.HasPrefix(page, "```\n") || !strings.HasSuffix(page, "\n```") {
			t.Errorf("page %d is not fenced: %q", n, page[:16])
		}
		if len(page) > messagePageLimit {
			t.Errorf("page %d is %d chars, over the message limit", n, len(page))
		}
	}
	if !strings.Contains(pages[0], "first\nsecond") {
		t.Errorf("page 0 lost its lines: %q", pages[0])
	}
}
