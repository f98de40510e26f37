package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Search    SearchConfig
	Retrieval RetrievalConfig
	Agent     AgentConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type SearchConfig struct {
	TavilyAPIKey string
}

type RetrievalConfig struct {
	TopK int
}

type AgentConfig struct {
	MaxRounds   int
	ToolTimeout string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK: 4,
		},
		Agent: AgentConfig{
			MaxRounds:   6,
			ToolTimeout: "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from compiled defaults overridden by
// ASKD_* environment variables. Malformed values are warned about and
// skipped, never fatal.
func Load() Config {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".askd"
	}
	return filepath.Join(home, ".askd")
}
