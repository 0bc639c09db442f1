// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/store"
)

// =============================================================================
// /download
// =============================================================================

// maxUploadBytes leaves a little headroom under Discord's 25MB cap.
const maxUploadBytes = 25*1024*1024 - 256

// commonFormats maps friendly format names onto yt-dlp format selectors.
var commonFormats = map[string]string{
	"144p":   "17",
	"240p":   "133+140",
	"360p":   "18",
	"480p":   "135+140",
	"720p":   "22",
	"1080p":  "137+140",
	"1440p":  "248+251",
	"2160p":  "313+251",
	"mp3":    "ba[filesize<25M]",
	"m4a":    "ba[ext=m4a][filesize<25M]",
	"opus":   "ba[ext=webm][filesize<25M]",
	"vorbis": "ba[ext=webm][filesize<25M]",
	"ogg":    "ba[ext=webm][filesize<25M]",
}

// defaultFormat prefers reasonably sized h264/vp9 files.
const defaultFormat = "((bv+ba/b)[vcodec!=h265][vcodec!=av01][filesize<15M]/b[filesize<=15M]/b)"

// downloadCacheKey derives the cache key for a url+format pair.
func downloadCacheKey(webpageURL, format string) string {
	sum := md5.Sum([]byte(webpageURL + ":" + format))
	return hex.EncodeToString(sum[:])
}

// resolveFormat maps a user-supplied format name onto a yt-dlp selector.
func resolveFormat(userFormat string) string {
	if userFormat == "" {
		return defaultFormat
	}
	if selector, ok := commonFormats[strings.ToLower(userFormat)]; ok {
		return selector
	}
	return userFormat
}

func (b *Bot) downloadCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "download",
		Description: "Downloads a video or audio track and uploads it here.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The page to download media from.",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "format",
				Description: "A format name (720p, mp3, ...) or a raw yt-dlp format selector.",
			},
		},
	}
}

func (b *Bot) handleDownload(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	rawURL := stringOption(opts, "url", "")
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		editText(s, i, ":x: Invalid URL.")
		return
	}
	format := resolveFormat(stringOption(opts, "format", ""))
	key := downloadCacheKey(rawURL, format)

	// A previous upload of the same url+format is linked instead of
	// re-downloaded. Dead links fall through to a fresh download.
	if cached, ok, err := b.kv.FindDownload(key); err == nil && ok {
		if msg, err := s.ChannelMessage(cached.ChannelID, cached.MessageID); err == nil {
			if cached.AttachmentIndex < len(msg.Attachments) {
				editText(s, i, "Already downloaded: "+msg.Attachments[cached.AttachmentIndex].URL)
				return
			}
		}
		_ = b.kv.DeleteDownload(key)
	}

	editText(s, i, "Downloading, this may take a while...")
	tmpDir, err := os.MkdirTemp("", "jimmy-dl-*")
	if err != nil {
		editText(s, i, ":x: Could not allocate scratch space.")
		return
	}
	defer os.RemoveAll(tmpDir)

	_, stderr, code, err := runCommand(
		"yt-dlp",
		"--no-playlist",
		"--no-progress",
		"--max-filesize", fmt.Sprint(maxUploadBytes),
		"-f", format,
		"-o", filepath.Join(tmpDir, "%(title).50s.%(ext)s"),
		rawURL,
	)
	if err != nil {
		editText(s, i, ":x: Could not run yt-dlp: "+err.Error())
		return
	}
	if code != 0 {
		b.log.Warn("yt-dlp failed", zap.Int("exit", code), zap.String("url", rawURL))
		respondPages(s, i, outputLines("", "yt-dlp exited with "+fmt.Sprint(code)+"\n"+stderr))
		return
	}

	file, err := pickDownloadedFile(tmpDir)
	if err != nil {
		editText(s, i, ":x: "+err.Error())
		return
	}
	if info, err := os.Stat(file); err == nil && info.Size() > maxUploadBytes {
		// Too big to upload as-is; transcode the audio track instead.
		editText(s, i, "Result is too large, transcoding audio to m4a...")
		converted := strings.TrimSuffix(file, filepath.Ext(file)) + ".m4a"
		if _, _, code, err := runCommand("ffmpeg", "-y", "-i", file, "-vn", "-c:a", "aac", converted); err != nil || code != 0 {
			editText(s, i, ":x: The file is too large to upload and transcoding failed.")
			return
		}
		file = converted
		if info, err := os.Stat(file); err != nil || info.Size() > maxUploadBytes {
			editText(s, i, ":x: The file is too large to upload, even as audio only.")
			return
		}
	}

	handle, err := os.Open(file)
	if err != nil {
		editText(s, i, ":x: Could not open the downloaded file.")
		return
	}
	defer handle.Close()

	content := "Here you go!"
	msg, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{{
			Name:   filepath.Base(file),
			Reader: handle,
		}},
	})
	if err != nil {
		b.log.Error("failed to upload download", zap.Error(err))
		editText(s, i, ":x: The upload failed: "+err.Error())
		return
	}
	if err := b.kv.SaveDownload(store.Download{
		Key:        key,
		MessageID:  msg.ID,
		ChannelID:  msg.ChannelID,
		WebpageURL: rawURL,
		FormatID:   format,
	}); err != nil {
		b.log.Warn("failed to cache download", zap.Error(err))
	}
}

// pickDownloadedFile returns the single media file yt-dlp produced.
func pickDownloadedFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("could not inspect the download directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasSuffix(entry.Name(), ".part") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("the download produced no file (over the size limit?)")
}
