// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pool

import (
	"testing"

	"github.com/nexy7574/college-bot-v2/internal/config"
)

func testServers() map[string]config.OllamaServer {
	return map[string]config.OllamaServer{
		"alpha": {BaseURL: "http://a:11434", AllowedModels: []string{"llama2*"}},
		"beta":  {BaseURL: "http://b:11434", AllowedModels: []string{"*"}},
		"gamma": {BaseURL: "http://c:11434", AllowedModels: []string{"llava:*", "mistral:latest"}},
	}
}

func TestNextRoundRobin(t *testing.T) {
	p := New(testServers())

	// N calls over N backends must visit each exactly once, then repeat.
	seen := map[string]int{}
	var order []string
	for i := 0; i < p.Len(); i++ {
		key := p.Next(true)
		seen[key]++
		order = append(order, key)
	}
	for key, count := range seen {
		if count != 1 {
			t.Errorf("key %q selected %d times in one rotation", key, count)
		}
	}

	// Second rotation repeats the first in the same order.
	for i := 0; i < p.Len(); i++ {
		if key := p.Next(true); key != order[i] {
			t.Errorf("rotation 2 position %d = %q, want %q", i, key, order[i])
		}
	}
}

func TestNextWithoutIncrement(t *testing.T) {
	p := New(testServers())

	first := p.Next(true)
	if again := p.Next(false); again != first {
		t.Errorf("Next(false) = %q, want cursor unchanged at %q", again, first)
	}
	if again := p.Next(false); again != first {
		t.Errorf("repeated Next(false) = %q, want %q", again, first)
	}
}

func TestGet(t *testing.T) {
	p := New(testServers())

	srv, ok := p.Get("beta")
	if !ok {
		t.Fatal("Get(beta) not found")
	}
	if srv.BaseURL != "http://b:11434" {
		t.Errorf("BaseURL = %q", srv.BaseURL)
	}

	if _, ok := p.Get("delta"); ok {
		t.Error("Get(delta) found a server that does not exist")
	}
}

func TestAllowsModel(t *testing.T) {
	srv := Server{AllowedModels: []string{"llava:*"}}

	if !srv.AllowsModel("llava:latest") {
		t.Error("llava:latest should match llava:*")
	}
	if srv.AllowsModel("llama2:latest") {
		t.Error("llama2:latest should not match llava:*")
	}

	wild := Server{AllowedModels: []string{"*"}}
	if !wild.AllowsModel("anything:at-all") {
		t.Error("* should match any model id")
	}
}

func TestReloadKeepsCursorBounded(t *testing.T) {
	p := New(testServers())
	p.Next(true)
	p.Next(true)

	p.Reload(map[string]config.OllamaServer{
		"solo": {BaseURL: "http://s:11434", AllowedModels: []string{"*"}},
	})

	if key := p.Next(true); key != "solo" {
		t.Errorf("Next after shrink = %q, want solo", key)
	}
}

func TestEmptyPool(t *testing.T) {
	p := New(nil)
	if key := p.Next(true); key != "" {
		t.Errorf("Next on empty pool = %q, want empty", key)
	}
}
