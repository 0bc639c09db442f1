// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/chat"
	"github.com/nexy7574/college-bot-v2/internal/util"
)

// =============================================================================
// COMMAND
// =============================================================================

const defaultModel = "llama2-uncensored:7b-chat"

func (b *Bot) ollamaCommand() *discordgo.ApplicationCommand {
	serverChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "next in rotation", Value: chat.ServerAuto},
	}
	for _, key := range b.pool.Keys() {
		serverChoices = append(serverChoices, &discordgo.ApplicationCommandOptionChoice{
			Name: key, Value: key,
		})
	}
	return &discordgo.ApplicationCommand{
		Name:        "ollama",
		Description: "Talk to a large language model.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "The query to feed into the model. Not the system prompt.",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "model",
				Description: fmt.Sprintf("The model to use. Defaults to %q.", defaultModel),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "server",
				Description: "The server to use.",
				Choices:     serverChoices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "context",
				Description: "A thread id from a previous response, to continue that conversation.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "give_acid",
				Description: "Crank the sampling parameters into the unhinged zone.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "image",
				Description: "An image to show to multimodal models.",
			},
		},
	}
}

// =============================================================================
// HANDLER
// =============================================================================

func (b *Bot) handleOllama(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		b.log.Error("failed to defer interaction", zap.Error(err))
		return
	}
	opts := commandOptions(i)
	req := chat.Request{
		Member:   interactionUser(i),
		Query:    stringOption(opts, "query", ""),
		Model:    stringOption(opts, "model", defaultModel),
		Server:   stringOption(opts, "server", chat.ServerAuto),
		ThreadID: stringOption(opts, "context", ""),
		GiveAcid: boolOption(opts, "give_acid", false),
	}

	if opt, ok := opts["image"]; ok {
		attachment := i.ApplicationCommandData().Resolved.Attachments[opt.Value.(string)]
		img, err := fetchAttachment(attachment)
		if err != nil {
			editText(s, i, ":x: Could not fetch attachment: "+err.Error())
			return
		}
		req.Image = img
	}

	tok := chat.NewToken()
	stopID := "ollama:stop:" + uuid.NewString()
	b.registerCancel(stopID, tok)
	defer b.unregisterCancel(stopID)

	prog := &turnRenderer{
		s:      s,
		i:      i,
		stopID: stopID,
		prompt: req.Query,
		server: req.Server,
		log:    b.log,
	}
	prog.Status("Waiting for a server...")

	res, err := b.orch.Run(context.Background(), req, prog, tok)
	if err != nil {
		prog.fail(err)
		return
	}
	prog.finish(res)
}

func fetchAttachment(a *discordgo.MessageAttachment) (*chat.Image, error) {
	resp, err := http.Get(a.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching attachment", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, chat.MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	return &chat.Image{ContentType: a.ContentType, Data: data}, nil
}

// =============================================================================
// PROGRESS RENDERING
// =============================================================================

// progressBar renders percent as ten green/white squares.
func progressBar(percent float64) string {
	filled := int(percent / 10)
	if filled > 10 {
		filled = 10
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("\U0001F7E9", filled) + strings.Repeat("⬜", 10-filled)
	return fmt.Sprintf("%s %.2f%%", bar, percent)
}

// turnRenderer renders orchestrator progress into the deferred interaction
// response. The orchestrator throttles callbacks, so every call edits.
type turnRenderer struct {
	s      *discordgo.Session
	i      *discordgo.InteractionCreate
	stopID string
	prompt string
	server string
	log    *zap.Logger
}

func (r *turnRenderer) Status(text string) {
	r.edit(&discordgo.MessageEmbed{
		Title:       "Working...",
		Description: text,
		Color:       colourBlurple,
	}, true)
}

func (r *turnRenderer) Pulling(status string, percent float64) {
	r.edit(&discordgo.MessageEmbed{
		Title:       "Downloading model",
		Description: status,
		Color:       colourBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Progress", Value: progressBar(percent)},
		},
	}, true)
}

func (r *turnRenderer) Generating(visible string) {
	r.edit(&discordgo.MessageEmbed{
		Title:       "Generating...",
		Description: visible,
		Color:       colourBlurple,
		Fields:      []*discordgo.MessageEmbedField{r.promptField()},
	}, true)
}

func (r *turnRenderer) promptField() *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{
		Name:  "Prompt",
		Value: ">>> " + util.Truncate(r.prompt, 1020),
	}
}

func (r *turnRenderer) fail(err error) {
	embed := &discordgo.MessageEmbed{
		Title:       "Unable to continue.",
		Description: util.Truncate(friendlyError(err), embedPageLimit),
		Color:       colourRed,
	}
	if chat.KindOf(err) == chat.KindCancelled {
		embed.Title = "Cancelled."
		embed.Description = "Generation stopped. Nothing was saved."
	}
	r.edit(embed, false)
}

func (r *turnRenderer) finish(res *chat.Result) {
	pages := SplitPages(res.Content, embedPageLimit)
	if len(pages) == 0 {
		pages = []string{"*The model returned an empty response.*"}
	}
	// An interaction response carries at most ten embeds.
	if len(pages) > 10 {
		pages = pages[:10]
	}
	embeds := make([]*discordgo.MessageEmbed, 0, len(pages))
	first := &discordgo.MessageEmbed{
		Title:       "Done!",
		Description: pages[0],
		Color:       colourGreen,
		Fields: []*discordgo.MessageEmbedField{
			r.promptField(),
			{Name: "Context", Value: res.ThreadID, Inline: true},
			{Name: "Model", Value: res.Model, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("Using server %q", res.Server.Key),
			IconURL: res.Server.IconURL,
		},
	}
	if res.Stats != nil {
		first.Fields = append(first.Fields, &discordgo.MessageEmbedField{
			Name: "Stats",
			Value: fmt.Sprintf("%d prompt + %d response tokens in %s (inference %s)",
				res.Stats.PromptTokens,
				res.Stats.CompletionTokens,
				res.Stats.TotalDuration.Round(time.Millisecond),
				res.Stats.EvalDuration.Round(time.Millisecond),
			),
		})
	}
	embeds = append(embeds, first)
	for _, page := range pages[1:] {
		embeds = append(embeds, &discordgo.MessageEmbed{
			Description: page,
			Color:       colourGreen,
		})
	}
	components := []discordgo.MessageComponent{}
	_, err := r.s.InteractionResponseEdit(r.i.Interaction, &discordgo.WebhookEdit{
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		r.log.Error("failed to edit final response", zap.Error(err))
	}
}

func (r *turnRenderer) edit(embed *discordgo.MessageEmbed, withStop bool) {
	embed.Timestamp = time.Now().Format(time.RFC3339)
	components := []discordgo.MessageComponent{}
	if withStop {
		components = append(components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Stop",
					Style:    discordgo.DangerButton,
					CustomID: r.stopID,
				},
			},
		})
	}
	_, err := r.s.InteractionResponseEdit(r.i.Interaction, &discordgo.WebhookEdit{
		Embeds:     &[]*discordgo.MessageEmbed{embed},
		Components: &components,
	})
	if err != nil {
		r.log.Debug("failed to edit progress response", zap.Error(err))
	}
}

// friendlyError maps turn failures to user-facing text.
func friendlyError(err error) string {
	switch chat.KindOf(err) {
	case chat.KindInvalidServer:
		return ":x: " + err.Error()
	case chat.KindModelNotAllowed:
		return ":x: " + err.Error()
	case chat.KindInvalidThread:
		return ":x: That context id does not exist. Start a fresh conversation and reuse the id it gives you."
	case chat.KindServerOffline:
		return ":x: The server went offline while handling your query. Try again in a minute."
	case chat.KindAllServersOffline:
		return ":x: All servers are offline. Try again later."
	case chat.KindBadStatus:
		return ":x: The server answered with an error:\n```\n" + err.Error() + "\n```"
	case chat.KindAttachmentTooLarge:
		return ":x: That image is too large. The limit is 25MB."
	case chat.KindAttachmentType:
		return ":x: Only images can be attached."
	default:
		return ":x: Something went wrong: " + err.Error()
	}
}
