// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pool maintains the rotating list of chat backends.
//
// Backends come from configuration and are ordered by sorted key. Selection
// is round-robin over a cursor owned by the pool; liveness is probed per
// request by the orchestrator, never cached here.
package pool

import (
	"path"
	"sync"

	"github.com/nexy7574/college-bot-v2/internal/config"
)

// =============================================================================
// SERVER
// =============================================================================

// Server is one configured backend.
type Server struct {
	Key           string
	BaseURL       string
	AllowedModels []string
	IconURL       string
}

// AllowsModel reports whether a normalized "name:tag" model id matches at
// least one of the server's allow-list glob patterns.
func (s Server) AllowsModel(model string) bool {
	for _, pattern := range s.AllowedModels {
		if ok, err := path.Match(pattern, model); err == nil && ok {
			return true
		}
	}
	return false
}

// =============================================================================
// POOL
// =============================================================================

// Pool cycles through configured backends.
type Pool struct {
	mu      sync.Mutex
	servers []Server
	cursor  int
}

// New builds a pool from the configured server map, ordered by sorted key.
func New(servers map[string]config.OllamaServer) *Pool {
	p := &Pool{}
	p.load(servers)
	return p
}

func (p *Pool) load(servers map[string]config.OllamaServer) {
	cfg := &config.Config{Ollama: servers}
	list := make([]Server, 0, len(servers))
	for _, key := range cfg.ServerKeys() {
		srv := servers[key]
		list = append(list, Server{
			Key:           key,
			BaseURL:       srv.BaseURL,
			AllowedModels: srv.AllowedModels,
			IconURL:       srv.IconURL,
		})
	}
	p.servers = list
	if len(list) > 0 {
		p.cursor %= len(list)
	} else {
		p.cursor = 0
	}
}

// Reload swaps the server list for a new configuration revision, keeping the
// cursor position modulo the new length.
func (p *Pool) Reload(servers map[string]config.OllamaServer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load(servers)
}

// Len returns the number of configured backends.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers)
}

// Keys returns the backend keys in rotation order.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.servers))
	for i, s := range p.servers {
		keys[i] = s.Key
	}
	return keys
}

// Get returns the backend with the given key.
func (p *Pool) Get(key string) (Server, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.servers {
		if s.Key == key {
			return s, true
		}
	}
	return Server{}, false
}

// Next returns the next backend key in rotation. With increment, the cursor
// advances first, so N calls over N backends visit each exactly once before
// repeating. Without increment, the key at the current cursor position is
// returned unchanged (retry-same-position scenarios).
func (p *Pool) Next(increment bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.servers) == 0 {
		return ""
	}
	if increment {
		p.cursor = (p.cursor + 1) % len(p.servers)
	}
	return p.servers[p.cursor].Key
}
