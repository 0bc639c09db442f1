// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"reflect"
	"testing"
)

func TestParseQuoteAuthor(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		hasAttachment bool
		wantAuthor    string
		wantOK        bool
	}{
		{
			name:       "simple quote",
			content:    `"never gonna give you up" - rick`,
			wantAuthor: "Rick",
			wantOK:     true,
		},
		{
			name:       "at-prefixed author",
			content:    "something profound -@dave",
			wantAuthor: "Dave",
			wantOK:     true,
		},
		{
			name:       "attribution on its own line",
			content:    "line one line two\n- alice",
			wantAuthor: "Alice",
			wantOK:     true,
		},
		{
			name:       "me attribution",
			content:    "i am very funny - me",
			wantAuthor: "Me",
			wantOK:     true,
		},
		{
			name:          "attachment with bare attribution",
			content:       " - bob",
			hasAttachment: true,
			wantAuthor:    "Bob",
			wantOK:        true,
		},
		{
			name:    "no attribution",
			content: "just chatting in the quotes channel",
			wantOK:  false,
		},
		{
			name:    "empty",
			content: "",
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			author, ok := parseQuoteAuthor(tt.content, tt.hasAttachment)
			if ok != tt.wantOK {
				t.Fatalf("parseQuoteAuthor(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			}
			if ok && author != tt.wantAuthor {
				t.Errorf("parseQuoteAuthor(%q) = %q, want %q", tt.content, author, tt.wantAuthor)
			}
		})
	}
}

func TestResolveAuthor(t *testing.T) {
	names := map[string]string{
		"nexy":  "Nex",
		"jdm12": "Jake",
	}

	t.Run("me resolves through the sender", func(t *testing.T) {
		got, ok := resolveAuthor("Me", "Nexy", names)
		if !ok || got != "Nex" {
			t.Errorf("resolveAuthor(Me) = %q, %v, want Nex", got, ok)
		}
	})

	t.Run("unmapped me is discarded", func(t *testing.T) {
		if _, ok := resolveAuthor("Me", "stranger", names); ok {
			t.Error("unmapped Me attribution should be discarded")
		}
	})

	t.Run("mapped attribution uses display name", func(t *testing.T) {
		got, ok := resolveAuthor("Jdm12", "whoever", names)
		if !ok || got != "Jake" {
			t.Errorf("resolveAuthor(Jdm12) = %q, %v, want Jake", got, ok)
		}
	})

	t.Run("unmapped attribution passes through", func(t *testing.T) {
		got, ok := resolveAuthor("Alice", "whoever", names)
		if !ok || got != "Alice" {
			t.Errorf("resolveAuthor(Alice) = %q, %v, want Alice", got, ok)
		}
	})
}

func TestRankAuthors(t *testing.T) {
	counts := map[string]int{
		"Alice": 50,
		"Bob":   45,
		"Carol": 3,
		"Dave":  2,
	}

	t.Run("small authors merge into Other", func(t *testing.T) {
		got := rankAuthors(counts, true)
		want := []authorCount{
			{Name: "Alice", Count: 50},
			{Name: "Bob", Count: 45},
			{Name: "Other", Count: 5},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("rankAuthors() = %v, want %v", got, want)
		}
	})

	t.Run("merge disabled keeps everyone", func(t *testing.T) {
		got := rankAuthors(counts, false)
		if len(got) != 4 {
			t.Fatalf("got %d authors, want 4", len(got))
		}
		for _, ac := range got {
			if ac.Name == "Other" {
				t.Error("found an Other slice with merging disabled")
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := rankAuthors(map[string]int{}, true); len(got) != 0 {
			t.Errorf("rankAuthors(empty) = %v, want none", got)
		}
	})
}

func TestRenderPieChart(t *testing.T) {
	buf, err := renderPieChart([]authorCount{
		{Name: "Alice", Count: 7},
		{Name: "Bob", Count: 3},
	})
	if err != nil {
		t.Fatalf("renderPieChart() error: %v", err)
	}
	// PNG magic header.
	head := buf.Bytes()
	if len(head) < 8 || head[1] != 'P' || head[2] != 'N' || head[3] != 'G' {
		t.Error("renderPieChart() did not produce a PNG")
	}
}
