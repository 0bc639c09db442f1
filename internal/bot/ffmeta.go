// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"github.com/bwmarrin/discordgo"
)

// =============================================================================
// /ffprobe
// =============================================================================

func (b *Bot) ffprobeCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ffprobe",
		Description: "Runs ffprobe on a given URL or attachment.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The media URL to inspect.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "attachment",
				Description: "A media attachment to inspect.",
			},
		},
	}
}

func (b *Bot) handleFFProbe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	target := stringOption(opts, "url", "")
	if opt, ok := opts["attachment"]; ok {
		if a := i.ApplicationCommandData().Resolved.Attachments[opt.Value.(string)]; a != nil {
			target = a.URL
		}
	}
	if target == "" {
		editText(s, i, ":x: No URL or attachment provided.")
		return
	}

	stdout, stderr, _, err := runCommand("ffprobe", "-hide_banner", target)
	if err != nil {
		editText(s, i, ":x: Could not run ffprobe: "+err.Error())
		return
	}
	// ffprobe writes its report to stderr and stdout stays empty for most
	// inputs; show whichever has content.
	lines := outputLines(stdout, "")
	if len(lines) == 0 {
		for _, line := range outputLines("", stderr) {
			lines = append(lines, line[len("[STDERR] "):])
		}
	} else {
		lines = append(lines, outputLines("", stderr)...)
	}
	respondPages(s, i, lines)
}
