package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Instagram InstagramConfig
	Storage   StorageConfig
	Health    HealthConfig
	History   HistoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type AIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout string
	ProbeTimeout   string
}

type InstagramConfig struct {
	GraphBaseURL string
	VerifyToken  string
	AccessToken  string
	BotID        string
}

type StorageConfig struct {
	DataDir string
}

type HealthConfig struct {
	MaxFailures int
	StaleAfter  string
}

type HistoryConfig struct {
	Window int
	MaxAge string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		AI: AIConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "z-ai/glm-4.5-air:free",
			MaxTokens:      400,
			RequestTimeout: "8s",
			ProbeTimeout:   "3s",
		},
		Instagram: InstagramConfig{
			GraphBaseURL: "https://graph.instagram.com/v21.0",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Health: HealthConfig{
			MaxFailures: 3,
			StaleAfter:  "5m",
		},
		History: HistoryConfig{
			Window: 10,
			MaxAge: "24h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "instashop-data"
		}
	}
	return filepath.Join(dir, "instashop")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/instashop/config.json and applies INSTASHOP_* environment
// overrides. Secrets (AI API key, Instagram tokens) come from environment
// variables only.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.AI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: AI API key. Set it via environment variable INSTASHOP_AI_API_KEY")
	}

	return cfg, nil
}
