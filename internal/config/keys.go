package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INSTASHOP_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "INSTASHOP_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ai.base_url", typ: kString, env: "INSTASHOP_AI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.BaseURL },
	},
	{
		key: "ai.api_key", typ: kString, env: "INSTASHOP_AI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.APIKey },
	},
	{
		key: "ai.model", typ: kString, env: "INSTASHOP_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.max_tokens", typ: kInt, env: "INSTASHOP_AI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.AI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.MaxTokens },
	},
	{
		key: "ai.request_timeout", typ: kString, env: "INSTASHOP_AI_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.AI.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.RequestTimeout },
	},
	{
		key: "ai.probe_timeout", typ: kString, env: "INSTASHOP_AI_PROBE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.AI.ProbeTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.ProbeTimeout },
	},
	{
		key: "instagram.graph_base_url", typ: kString, env: "INSTASHOP_INSTAGRAM_GRAPH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Instagram.GraphBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.GraphBaseURL },
	},
	{
		key: "instagram.verify_token", typ: kString, env: "INSTASHOP_INSTAGRAM_VERIFY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Instagram.VerifyToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.VerifyToken },
	},
	{
		key: "instagram.access_token", typ: kString, env: "INSTASHOP_INSTAGRAM_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Instagram.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.AccessToken },
	},
	{
		key: "instagram.bot_id", typ: kString, env: "INSTASHOP_INSTAGRAM_BOT_ID",
		apply:   func(cfg *Config, v any) { cfg.Instagram.BotID = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.BotID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INSTASHOP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "health.max_failures", typ: kInt, env: "INSTASHOP_HEALTH_MAX_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Health.MaxFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.Health.MaxFailures },
	},
	{
		key: "health.stale_after", typ: kString, env: "INSTASHOP_HEALTH_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Health.StaleAfter = v.(string) },
		extract: func(cfg Config) any { return cfg.Health.StaleAfter },
	},
	{
		key: "history.window", typ: kInt, env: "INSTASHOP_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.History.Window = v.(int) },
		extract: func(cfg Config) any { return cfg.History.Window },
	},
	{
		key: "history.max_age", typ: kString, env: "INSTASHOP_HISTORY_MAX_AGE",
		apply:   func(cfg *Config, v any) { cfg.History.MaxAge = v.(string) },
		extract: func(cfg Config) any { return cfg.History.MaxAge },
	},
	{
		key: "log.level", typ: kString, env: "INSTASHOP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
