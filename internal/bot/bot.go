// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bot owns the Discord session: slash command registration and
// dispatch, the bridge message listener, and the command handlers
// themselves. Feature logic lives in the domain packages; handlers here
// translate interactions in and embeds out.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/chat"
	"github.com/nexy7574/college-bot-v2/internal/config"
	"github.com/nexy7574/college-bot-v2/internal/history"
	"github.com/nexy7574/college-bot-v2/internal/pool"
	"github.com/nexy7574/college-bot-v2/internal/store"
	"github.com/nexy7574/college-bot-v2/internal/web"
)

// =============================================================================
// EMBED COLOURS
// =============================================================================

const (
	colourBlurple = 0x5865F2
	colourGreen   = 0x57F287
	colourRed     = 0xED4245
)

// =============================================================================
// BOT
// =============================================================================

// Broadcaster receives bridge-channel events for websocket fan-out.
type Broadcaster interface {
	Broadcast(web.MessagePayload)
}

// Bot wires the Discord gateway to the domain packages.
type Bot struct {
	cfg     *config.Config
	log     *zap.Logger
	session *discordgo.Session

	orch *chat.Orchestrator
	hist *history.Store
	pool *pool.Pool
	kv   *store.KV

	broadcaster Broadcaster

	handlers map[string]func(*discordgo.Session, *discordgo.InteractionCreate)

	// cancels maps a stop-button custom id to its turn's token.
	mu      sync.Mutex
	cancels map[string]*chat.Token
}

func New(cfg *config.Config, orch *chat.Orchestrator, hist *history.Store, p *pool.Pool, kv *store.KV, log *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Jimmy.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		cfg:     cfg,
		log:     log,
		session: session,
		orch:    orch,
		hist:    hist,
		pool:    p,
		kv:      kv,
		cancels: make(map[string]*chat.Token),
	}
	b.handlers = map[string]func(*discordgo.Session, *discordgo.InteractionCreate){
		"ollama":     b.handleOllama,
		"ping":       b.handlePing,
		"whois":      b.handleWhois,
		"dig":        b.handleDig,
		"traceroute": b.handleTraceroute,
		"quota":      b.handleQuota,
		"download":   b.handleDownload,
		"ffprobe":    b.handleFFProbe,
		"screenshot": b.handleScreenshot,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// SetBroadcaster attaches the websocket fan-out, wired late because the web
// server also needs the bot.
func (b *Bot) SetBroadcaster(br Broadcaster) {
	b.broadcaster = br
}

// Start opens the gateway session. Command registration happens on ready.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord gateway: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

// =============================================================================
// WEB-FACING SURFACE
// =============================================================================

func (b *Bot) Online() bool {
	return b.session.DataReady
}

func (b *Bot) Latency() time.Duration {
	return b.session.HeartbeatLatency()
}

// SendBridgeMessage posts an external message into the bridge channel.
func (b *Bot) SendBridgeMessage(ctx context.Context, sender, message string) error {
	if b.cfg.Server.Channel == "" {
		return fmt.Errorf("no bridge channel configured")
	}
	_, err := b.session.ChannelMessageSendComplex(b.cfg.Server.Channel, &discordgo.MessageSend{
		Content:         fmt.Sprintf("**%s**: %s", sender, message),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send bridge message: %w", err)
	}
	return nil
}

// =============================================================================
// GATEWAY EVENTS
// =============================================================================

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("gateway session ready",
		zap.String("user", r.User.String()),
		zap.Int("guilds", len(r.Guilds)),
	)
	commands := b.commandDefinitions()
	_, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.cfg.Jimmy.DebugGuild, commands)
	if err != nil {
		b.log.Error("failed to register commands", zap.Error(err))
		return
	}
	b.log.Info("registered application commands",
		zap.Int("count", len(commands)),
		zap.String("guild", b.cfg.Jimmy.DebugGuild),
	)
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		handler, ok := b.handlers[name]
		if !ok {
			b.log.Warn("interaction for unknown command", zap.String("command", name))
			return
		}
		start := time.Now()
		b.log.Info("command invoked",
			zap.String("command", name),
			zap.String("user", interactionUser(i)),
		)
		handler(s, i)
		b.log.Info("command completed",
			zap.String("command", name),
			zap.Duration("elapsed", time.Since(start)),
		)
	case discordgo.InteractionMessageComponent:
		b.onComponent(s, i)
	}
}

// onComponent handles stop buttons for in-flight generations.
func (b *Bot) onComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	id := i.MessageComponentData().CustomID
	b.mu.Lock()
	tok, ok := b.cancels[id]
	b.mu.Unlock()
	if !ok {
		// Stale button on an old message.
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
		return
	}
	tok.Cancel()
	b.log.Info("generation cancelled via button", zap.String("custom_id", id))
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

// onMessageCreate mirrors bridge-channel traffic to websocket clients.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if b.broadcaster == nil || m.ChannelID != b.cfg.Server.Channel {
		return
	}
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	attachments := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, a.URL)
	}
	payload := web.MessagePayload{
		EventType:   "create",
		MessageID:   m.ID,
		Author:      m.Author.Username,
		IsAutomated: m.Author.Bot,
		Avatar:      m.Author.AvatarURL(""),
		Content:     m.Content,
		At:          float64(m.Timestamp.UnixMilli()) / 1000,
		Attachments: attachments,
	}
	if m.ReferencedMessage != nil {
		payload.ReplyTo = m.ReferencedMessage.ID
	}
	b.broadcaster.Broadcast(payload)
}

// =============================================================================
// HELPERS
// =============================================================================

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return "unknown"
}

func (b *Bot) registerCancel(id string, tok *chat.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels[id] = tok
}

func (b *Bot) unregisterCancel(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cancels, id)
}

// deferResponse acknowledges the interaction so handlers get 15 minutes.
func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func editText(s *discordgo.Session, i *discordgo.InteractionCreate, text string) {
	_, _ = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &text,
	})
}

func commandOptions(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		out[opt.Name] = opt
	}
	return out
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name, fallback string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return fallback
}

func intOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int64) int64 {
	if opt, ok := opts[name]; ok {
		return opt.IntValue()
	}
	return fallback
}

func boolOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, fallback bool) bool {
	if opt, ok := opts[name]; ok {
		return opt.BoolValue()
	}
	return fallback
}

// commandDefinitions gathers every cog's slash command metadata.
func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	defs := []*discordgo.ApplicationCommand{
		b.ollamaCommand(),
		b.pingCommand(),
		b.whoisCommand(),
		b.digCommand(),
		b.tracerouteCommand(),
		b.quotaCommand(),
		b.downloadCommand(),
		b.ffprobeCommand(),
		b.screenshotCommand(),
	}
	return defs
}
