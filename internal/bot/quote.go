// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/wcharczuk/go-chart/v2"
	"go.uber.org/zap"
)

// =============================================================================
// QUOTE ATTRIBUTION
// =============================================================================

// Quotes are expected to end in an attribution line, "- author". Messages
// that are only an attachment plus attribution have no quote text before
// the dash.
var (
	quoteWithAttachmentRe = regexp.MustCompile(`^.*\s+-\s*@?([\w\s]+)`)
	quoteTextOnlyRe       = regexp.MustCompile(`^.+\s*-\s*@?([\w\s]+)`)
)

// parseQuoteAuthor extracts the attributed author from a quote message.
func parseQuoteAuthor(content string, hasAttachment bool) (string, bool) {
	re := quoteTextOnlyRe
	if hasAttachment {
		re = quoteWithAttachmentRe
	}
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return titleCase(strings.TrimSpace(m[1])), true
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// resolveAuthor maps an attribution onto a display name. "Me" resolves
// through the configured names map keyed by the message author's username;
// unmapped "Me" quotes are discarded.
func resolveAuthor(attributed, messageAuthor string, names map[string]string) (string, bool) {
	if attributed == "Me" {
		display, ok := names[strings.ToLower(strings.TrimSpace(messageAuthor))]
		return display, ok
	}
	if display, ok := names[strings.ToLower(attributed)]; ok {
		return display, true
	}
	return attributed, true
}

// authorCount is one pie slice.
type authorCount struct {
	Name  string
	Count int
}

// rankAuthors orders authors by count. With merge, authors under 5% of the
// total are folded into a trailing "Other" slice.
func rankAuthors(counts map[string]int, merge bool) []authorCount {
	total := 0
	for _, c := range counts {
		total += c
	}
	ranked := make([]authorCount, 0, len(counts))
	other := 0
	for name, c := range counts {
		if merge && total > 0 && float64(c)/float64(total) < 0.05 {
			other += c
			continue
		}
		ranked = append(ranked, authorCount{Name: name, Count: c})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].Count != ranked[b].Count {
			return ranked[a].Count > ranked[b].Count
		}
		return ranked[a].Name < ranked[b].Name
	})
	if other > 0 {
		ranked = append(ranked, authorCount{Name: "Other", Count: other})
	}
	return ranked
}

// renderPieChart draws the attribution counts as a PNG.
func renderPieChart(ranked []authorCount) (*bytes.Buffer, error) {
	total := 0
	for _, ac := range ranked {
		total += ac.Count
	}
	values := make([]chart.Value, 0, len(ranked))
	for _, ac := range ranked {
		values = append(values, chart.Value{
			Value: float64(ac.Count),
			Label: fmt.Sprintf("%s: %.1f%% (%d)", ac.Name, float64(ac.Count)/float64(total)*100, ac.Count),
		})
	}
	pie := chart.PieChart{Width: 720, Height: 720, Values: values}
	buf := new(bytes.Buffer)
	if err := pie.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buf, nil
}

// =============================================================================
// /quota
// =============================================================================

func (b *Bot) quotaCommand() *discordgo.ApplicationCommand {
	minLookback, maxLookback := float64(1), float64(365)
	return &discordgo.ApplicationCommand{
		Name:        "quota",
		Description: "Checks the quote quota for the quotes channel.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "lookback",
				Description: "How many days to look back on. Defaults to 7.",
				MinValue:    &minLookback,
				MaxValue:    maxLookback,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "merge_other",
				Description: "Merge authors with less than 5% of the total into 'Other'. Defaults to true.",
			},
		},
	}
}

// quotesChannel finds the configured quotes channel, falling back to a
// channel literally named "quotes" in the invoking guild.
func (b *Bot) quotesChannel(s *discordgo.Session, guildID string) string {
	if b.cfg.QuoteA.ChannelID != "" {
		return b.cfg.QuoteA.ChannelID
	}
	channels, err := s.GuildChannels(guildID)
	if err != nil {
		return ""
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == "quotes" {
			return ch.ID
		}
	}
	return ""
}

func (b *Bot) handleQuota(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	days := intOption(opts, "lookback", 7)
	merge := boolOption(opts, "merge_other", true)

	channelID := b.quotesChannel(s, i.GuildID)
	if channelID == "" {
		editText(s, i, ":x: Cannot find quotes channel.")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -int(days))
	counts := make(map[string]int)
	var filtered, total int

	before := ""
walk:
	for {
		messages, err := s.ChannelMessages(channelID, 100, before, "", "")
		if err != nil {
			b.log.Error("failed to walk quotes channel", zap.Error(err))
			editText(s, i, ":x: Could not read the quotes channel: "+err.Error())
			return
		}
		if len(messages) == 0 {
			break
		}
		for _, m := range messages {
			if m.Timestamp.Before(cutoff) {
				break walk
			}
			total++
			if m.Content == "" {
				filtered++
				continue
			}
			attributed, ok := parseQuoteAuthor(m.Content, len(m.Attachments) > 0)
			if !ok {
				filtered++
				continue
			}
			author, ok := resolveAuthor(attributed, m.Author.Username, b.cfg.QuoteA.Names)
			if !ok {
				filtered++
				continue
			}
			counts[author]++
		}
		before = messages[len(messages)-1].ID
	}

	if len(counts) == 0 {
		editText(s, i, fmt.Sprintf("No quotes found in the last %d days (%d messages filtered).", days, filtered))
		return
	}
	ranked := rankAuthors(counts, merge)
	buf, err := renderPieChart(ranked)
	if err != nil {
		b.log.Error("failed to render quota chart", zap.Error(err))
		editText(s, i, ":x: Could not render the chart.")
		return
	}
	content := fmt.Sprintf("%d messages (out of %d) were filtered (didn't follow format?)", filtered, total)
	_, _ = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{{
			Name:        "pie.png",
			ContentType: "image/png",
			Reader:      buf,
		}},
	})
}
