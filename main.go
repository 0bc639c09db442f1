// Jimmy - A Discord bot with an LLM chat brain and assorted utilities.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/bot"
	"github.com/nexy7574/college-bot-v2/internal/chat"
	"github.com/nexy7574/college-bot-v2/internal/config"
	"github.com/nexy7574/college-bot-v2/internal/history"
	"github.com/nexy7574/college-bot-v2/internal/logging"
	"github.com/nexy7574/college-bot-v2/internal/pool"
	"github.com/nexy7574/college-bot-v2/internal/store"
	"github.com/nexy7574/college-bot-v2/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Suppress)
	if err != nil {
		return err
	}
	defer log.Sync()

	kv, err := store.Open(cfg.Store.Path, store.Options{SkipCheck: cfg.Store.SkipCheck})
	if err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	defer kv.Close()

	hist, err := history.New(kv, cfg.Jimmy.OllamaPrompt, log.Named("history"))
	if err != nil {
		return err
	}
	backends := pool.New(cfg.Ollama)
	orch := chat.New(backends, hist, log.Named("chat"))

	discord, err := bot.New(cfg, orch, hist, backends, kv, log.Named("bot"))
	if err != nil {
		return err
	}
	webSrv := web.New(cfg.Server, discord, log.Named("web"))
	discord.SetBroadcaster(webSrv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config edits feed backend pool reloads; everything else needs a
	// restart.
	revisions, err := config.Watch(ctx, cfgPath, log.Named("config"))
	if err != nil {
		log.Warn("config watching disabled", zap.Error(err))
	} else {
		go func() {
			for revision := range revisions {
				backends.Reload(revision.Ollama)
				log.Info("backend pool reloaded", zap.Int("servers", backends.Len()))
			}
		}()
	}

	go func() {
		if err := webSrv.Start(); err != nil {
			log.Error("web server failed", zap.Error(err))
			stop()
		}
	}()
	if err := discord.Start(); err != nil {
		return err
	}
	log.Info("jimmy is up")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("web server shutdown failed", zap.Error(err))
	}
	if err := discord.Stop(); err != nil {
		log.Warn("gateway close failed", zap.Error(err))
	}
	return nil
}
