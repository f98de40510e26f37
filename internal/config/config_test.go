package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("Retrieval.TopK = %d, want 4", cfg.Retrieval.TopK)
	}
	if cfg.Agent.MaxRounds != 6 {
		t.Errorf("Agent.MaxRounds = %d, want 6", cfg.Agent.MaxRounds)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ASKD_SERVER_PORT", "5000")
	t.Setenv("ASKD_OLLAMA_CHAT_MODEL", "llama3.1")
	t.Setenv("ASKD_AGENT_MAX_ROUNDS", "3")

	cfg := Load()

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "llama3.1" {
		t.Errorf("Ollama.ChatModel = %q, want llama3.1", cfg.Ollama.ChatModel)
	}
	if cfg.Agent.MaxRounds != 3 {
		t.Errorf("Agent.MaxRounds = %d, want 3", cfg.Agent.MaxRounds)
	}
}

func TestEnvOverrides_BadInt(t *testing.T) {
	t.Setenv("ASKD_SERVER_PORT", "not-a-number")

	cfg := Load()

	// Malformed values fall back to the default instead of failing.
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want default 4600", cfg.Server.Port)
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "super-secret"
	cfg.Search.TavilyAPIKey = "tvly-key"

	for _, kv := range ShowAll(cfg) {
		switch kv.Key {
		case "server.api_token", "search.tavily_api_key":
			if kv.Value != "********" {
				t.Errorf("%s = %q, want masked", kv.Key, kv.Value)
			}
		}
	}
}

func TestShowAll_Sorted(t *testing.T) {
	kvs := ShowAll(defaults())
	for i := 1; i < len(kvs); i++ {
		if kvs[i-1].Key > kvs[i].Key {
			t.Errorf("keys not sorted: %q before %q", kvs[i-1].Key, kvs[i].Key)
		}
	}
}
