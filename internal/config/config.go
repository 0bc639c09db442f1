// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the bot.
//
// Configuration lives in a TOML file (default ./config.toml, overridable via
// the JIMMY_CONFIG environment variable), with sensible defaults, environment
// variable overrides, and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete bot configuration.
type Config struct {
	// Jimmy holds core bot settings.
	Jimmy JimmyConfig `toml:"jimmy"`

	// Logging configures the process logger.
	Logging LoggingConfig `toml:"logging"`

	// Ollama maps a server key to its backend definition. Keys are iterated
	// in sorted order everywhere ordering matters.
	Ollama map[string]OllamaServer `toml:"ollama"`

	// Store configures the durable key-value store.
	Store StoreConfig `toml:"store"`

	// Server configures the bridge HTTP API.
	Server ServerConfig `toml:"server"`

	// QuoteA configures the quote-attribution statistics command.
	QuoteA QuoteConfig `toml:"quote_a"`
}

// JimmyConfig contains core bot settings.
type JimmyConfig struct {
	// Token is the Discord bot token. Overridable via JIMMY_TOKEN.
	Token string `toml:"token"`
	// DebugGuild registers commands against a single guild when set,
	// which makes them appear instantly during development.
	DebugGuild string `toml:"debug_guild"`
	// OllamaPrompt is the path of the default system prompt asset.
	OllamaPrompt string `toml:"ollama_prompt"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level    string   `toml:"level"`
	File     string   `toml:"file"`
	Suppress []string `toml:"suppress"`
}

// OllamaServer describes one chat backend.
type OllamaServer struct {
	// BaseURL is the root of the backend HTTP API, e.g. "http://10.0.0.1:11434".
	BaseURL string `toml:"base_url"`
	// AllowedModels is an ordered list of glob patterns over "name:tag"
	// model ids. A requested model must match at least one pattern.
	AllowedModels []string `toml:"allowed_models"`
	// IconURL decorates responses produced via this backend.
	IconURL string `toml:"icon_url"`
}

// StoreConfig configures the durable key-value store.
type StoreConfig struct {
	// Path of the sqlite database file.
	Path string `toml:"path"`
	// SkipCheck skips the connectivity check at store construction.
	SkipCheck bool `toml:"skip_check"`
}

// ServerConfig configures the bridge HTTP API.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Channel is the Discord channel id bridged messages are sent to.
	Channel string `toml:"channel"`
	// Secret authenticates bridge clients.
	Secret string `toml:"secret"`
}

// QuoteConfig configures the quote-attribution statistics command.
type QuoteConfig struct {
	// ChannelID is the quotes channel. When empty the command falls back
	// to a channel literally named "quotes".
	ChannelID string `toml:"channel_id"`
	// Names maps lowercase Discord usernames to display names, resolving
	// quotes attributed to "Me".
	Names map[string]string `toml:"names"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Jimmy: JimmyConfig{
			OllamaPrompt: "./assets/ollama-prompt.txt",
		},
		Store: StoreConfig{
			Path: "./data/jimmy.db",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Path returns the config file path, honouring JIMMY_CONFIG.
func Path() string {
	if p := os.Getenv("JIMMY_CONFIG"); p != "" {
		return p
	}
	return "config.toml"
}

// Load reads, overlays and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variable overrides.
func (c *Config) applyEnv() {
	if token := os.Getenv("JIMMY_TOKEN"); token != "" {
		c.Jimmy.Token = token
	}
}

// applyDefaults backfills zero values the TOML file left unset.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Jimmy.OllamaPrompt == "" {
		c.Jimmy.OllamaPrompt = d.Jimmy.OllamaPrompt
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for internally inconsistent or unusable
// values. A missing Discord token is fatal here, matching the startup check
// the bot always performed.
func (c *Config) Validate() error {
	if c.Jimmy.Token == "" {
		return errors.New("no token specified (hint: set jimmy.token in config.toml or JIMMY_TOKEN)")
	}

	if len(c.Ollama) == 0 {
		return errors.New("no ollama servers configured (hint: add an [ollama.<key>] section)")
	}
	for key, srv := range c.Ollama {
		u, err := url.Parse(srv.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ollama server %q has invalid base_url %q", key, srv.BaseURL)
		}
		if len(srv.AllowedModels) == 0 {
			return fmt.Errorf("ollama server %q allows no models", key)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// ServerKeys returns the ollama server keys in sorted order. This is the
// canonical backend ordering used by the server pool.
func (c *Config) ServerKeys() []string {
	keys := make([]string, 0, len(c.Ollama))
	for k := range c.Ollama {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
