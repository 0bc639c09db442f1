// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import "strings"

// =============================================================================
// OUTPUT PAGINATION
// =============================================================================

// embedPageLimit is the embed description ceiling.
const embedPageLimit = 4096

// messagePageLimit is the plain message ceiling.
const messagePageLimit = 2000

// SplitPages breaks text into pages of at most limit characters, splitting
// on word boundaries where possible. A single word longer than the limit is
// hard-cut.
func SplitPages(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}
	var pages []string
	var page strings.Builder
	for _, word := range strings.Fields(text) {
		for len(word) > limit {
			if page.Len() > 0 {
				pages = append(pages, strings.TrimRight(page.String(), " "))
				page.Reset()
			}
			pages = append(pages, word[:limit])
			word = word[limit:]
		}
		if page.Len()+len(word)+1 > limit {
			pages = append(pages, strings.TrimRight(page.String(), " "))
			page.Reset()
		}
		page.WriteString(word)
		page.WriteString(" ")
	}
	if strings.TrimSpace(page.String()) != "" {
		pages = append(pages, strings.TrimRight(page.String(), " "))
	}
	return pages
}

// codeBlockPages wraps lines into ``` fenced pages of at most
// messagePageLimit characters each.
func codeBlockPages(lines []string) []string {
	const fenceOverhead = 8 // "```\n" + "\n```"
	limit := messagePageLimit - fenceOverhead
	var pages []string
	var page strings.Builder
	flush := func() {
		if page.Len() > 0 {
			pages = append(pages, "```\n"+strings.TrimRight(page.String(), "\n")+"\n```")
			page.Reset()
		}
	}
	for _, line := range lines {
		if len(line) > limit {
			line = line[:limit]
		}
		if page.Len()+len(line)+1 > limit {
			flush()
		}
		page.WriteString(line)
		page.WriteString("\n")
	}
	flush()
	return pages
}
