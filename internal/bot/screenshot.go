// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// =============================================================================
// /screenshot
// =============================================================================

const (
	maxScreenshotWidth  = 7680
	maxScreenshotHeight = 4320
)

func (b *Bot) screenshotCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "screenshot",
		Description: "Screenshots a webpage.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The page to screenshot.",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "load_timeout",
				Description: "Seconds to wait for the page to load. Defaults to 10.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "render_timeout",
				Description: "Seconds to wait for rendering after load.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "eager",
				Description: "Capture as soon as the page loads instead of waiting out the render timeout.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "resolution",
				Description: "Browser window size, width x height. Defaults to 1920x1080.",
			},
		},
	}
}

// parseResolution parses "1920x1080" style window sizes.
func parseResolution(s string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("please provide width x height, e.g. 1920x1080")
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &width, &height); err != nil {
		return 0, 0, fmt.Errorf("please provide width x height, e.g. 1920x1080")
	}
	if width <= 0 || height <= 0 || width > maxScreenshotWidth || height > maxScreenshotHeight {
		return 0, 0, fmt.Errorf("max resolution is %dx%d (8K)", maxScreenshotWidth, maxScreenshotHeight)
	}
	return width, height, nil
}

func (b *Bot) handleScreenshot(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	pageURL := stringOption(opts, "url", "")
	if !strings.HasPrefix(pageURL, "http") {
		pageURL = "https://" + pageURL
	}
	loadTimeout := time.Duration(intOption(opts, "load_timeout", 10)) * time.Second
	eager := boolOption(opts, "eager", !hasOption(opts, "render_timeout"))
	defaultRender := int64(10)
	if eager {
		defaultRender = 0
	}
	renderTimeout := time.Duration(intOption(opts, "render_timeout", defaultRender)) * time.Second
	width, height, err := parseResolution(stringOption(opts, "resolution", "1920x1080"))
	if err != nil {
		editText(s, i, ":x: Invalid resolution: "+err.Error())
		return
	}

	editText(s, i, "Loading webpage...")
	start := time.Now()
	shot, quality, err := b.capturePage(pageURL, width, height, loadTimeout, renderTimeout)
	if err != nil {
		b.log.Warn("screenshot failed", zap.String("url", pageURL), zap.Error(err))
		editText(s, i, ":x: Could not screenshot the page: "+err.Error())
		return
	}

	content := fmt.Sprintf("Here you go! Took %.1fs, JPEG quality %d%%.",
		time.Since(start).Seconds(), quality)
	_, _ = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{{
			Name:        "screenshot.jpeg",
			ContentType: "image/jpeg",
			Reader:      bytes.NewReader(shot),
		}},
	})
}

// capturePage renders the page headlessly and captures it, stepping the
// JPEG quality down until the image fits under the upload cap.
func (b *Bot) capturePage(pageURL string, width, height int, loadTimeout, renderTimeout time.Duration) ([]byte, int, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(width, height),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	loadCtx, cancelLoad := context.WithTimeout(tabCtx, loadTimeout+renderTimeout+30*time.Second)
	defer cancelLoad()

	actions := []chromedp.Action{chromedp.Navigate(pageURL)}
	if renderTimeout > 0 {
		actions = append(actions, chromedp.Sleep(renderTimeout))
	}
	if err := chromedp.Run(loadCtx, actions...); err != nil {
		return nil, 0, fmt.Errorf("page load failed: %w", err)
	}

	var shot []byte
	for quality := 90; quality > 0; quality -= 15 {
		if err := chromedp.Run(loadCtx, chromedp.FullScreenshot(&shot, quality)); err != nil {
			return nil, 0, fmt.Errorf("capture failed: %w", err)
		}
		if len(shot) <= maxUploadBytes {
			return shot, quality, nil
		}
	}
	return nil, 0, fmt.Errorf("could not compress the screenshot under the upload limit")
}

func hasOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	_, ok := opts[name]
	return ok
}
