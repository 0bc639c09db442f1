// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
[jimmy]
token = "abc123"

[logging]
level = "debug"
suppress = ["web.bridge"]

[ollama.main]
base_url = "http://10.0.0.1:11434"
allowed_models = ["llama2*", "llava:*"]
icon_url = "https://example.test/icon.png"

[ollama.fallback]
base_url = "http://10.0.0.2:11434"
allowed_models = ["*"]

[server]
host = "127.0.0.1"
port = 8181
channel = "1032974266527907901"
secret = "hunter2"

[quote_a]
channel_id = "1012"
[quote_a.names]
eek = "Matthew"
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Jimmy.Token != "abc123" {
		t.Errorf("Token = %q, want %q", cfg.Jimmy.Token, "abc123")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Ollama) != 2 {
		t.Fatalf("Ollama servers = %d, want 2", len(cfg.Ollama))
	}
	if got := cfg.Ollama["main"].BaseURL; got != "http://10.0.0.1:11434" {
		t.Errorf("main base_url = %q", got)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.QuoteA.Names["eek"] != "Matthew" {
		t.Errorf("quote name mapping missing: %v", cfg.QuoteA.Names)
	}

	// Defaults must be backfilled for sections the file never set.
	if cfg.Store.Path == "" {
		t.Error("Store.Path default not applied")
	}
	if cfg.Jimmy.OllamaPrompt == "" {
		t.Error("OllamaPrompt default not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateMissingToken(t *testing.T) {
	body := `
[ollama.main]
base_url = "http://10.0.0.1:11434"
allowed_models = ["*"]
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestTokenEnvOverride(t *testing.T) {
	t.Setenv("JIMMY_TOKEN", "env-token")
	body := `
[ollama.main]
base_url = "http://10.0.0.1:11434"
allowed_models = ["*"]
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Jimmy.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.Jimmy.Token)
	}
}

func TestValidateRejectsBadServer(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			"no servers",
			"[jimmy]\ntoken = \"x\"\n",
		},
		{
			"bad base url",
			"[jimmy]\ntoken = \"x\"\n[ollama.a]\nbase_url = \"::nope\"\nallowed_models = [\"*\"]\n",
		},
		{
			"no allowed models",
			"[jimmy]\ntoken = \"x\"\n[ollama.a]\nbase_url = \"http://h:1\"\nallowed_models = []\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestServerKeysSorted(t *testing.T) {
	cfg := &Config{Ollama: map[string]OllamaServer{
		"zeta": {}, "alpha": {}, "mid": {},
	}}
	keys := cfg.ServerKeys()
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
