// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-reads the config file whenever it changes on disk and delivers
// each successfully loaded revision on the returned channel. Invalid
// revisions are logged and skipped, keeping the last good config in effect.
//
// Only the ollama server map is expected to be consumed from reloads;
// token, logging and listener changes require a restart.
func Watch(ctx context.Context, path string, log *zap.Logger) (<-chan *Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan *Config, 1)

	go func() {
		defer watcher.Close()
		defer close(out)

		// Editors typically produce a burst of events per save; a short
		// trailing debounce collapses them into one reload.
		var pending *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
				// Atomic-rename saves replace the watched inode.
				if event.Op&fsnotify.Rename != 0 {
					watcher.Add(path)
				}

			case <-reload:
				cfg, err := Load(path)
				if err != nil {
					log.Warn("ignoring config reload", zap.Error(err))
					continue
				}
				log.Info("config reloaded", zap.Int("ollama_servers", len(cfg.Ollama)))
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return out, nil
}
