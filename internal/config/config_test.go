package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, value string) error {
	if m.strings == nil {
		m.strings = map[string]string{}
	}
	m.strings[key] = value
	return nil
}

func (m *mapBackend) SetInt(key string, value int) error {
	if m.ints == nil {
		m.ints = map[string]int{}
	}
	m.ints[key] = value
	return nil
}

// TestDefaults verifies defaults survive an empty backend.
func TestDefaults(t *testing.T) {
	t.Setenv("INSTASHOP_AI_API_KEY", "test-key")

	cfg, err := loadWith(&mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.AI.Model != "z-ai/glm-4.5-air:free" {
		t.Errorf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.MaxTokens != 400 {
		t.Errorf("AI.MaxTokens = %d, want 400", cfg.AI.MaxTokens)
	}
	if cfg.Instagram.GraphBaseURL != "https://graph.instagram.com/v21.0" {
		t.Errorf("Instagram.GraphBaseURL = %q", cfg.Instagram.GraphBaseURL)
	}
	if cfg.Health.MaxFailures != 3 {
		t.Errorf("Health.MaxFailures = %d, want 3", cfg.Health.MaxFailures)
	}
	if cfg.Health.StaleAfter != "5m" {
		t.Errorf("Health.StaleAfter = %q, want 5m", cfg.Health.StaleAfter)
	}
	if cfg.History.Window != 10 {
		t.Errorf("History.Window = %d, want 10", cfg.History.Window)
	}
}

// TestBackendValues verifies file-backed values override defaults.
func TestBackendValues(t *testing.T) {
	t.Setenv("INSTASHOP_AI_API_KEY", "test-key")

	b := &mapBackend{
		strings: map[string]string{
			"ai.model":  "custom/model",
			"log.level": "debug",
		},
		ints: map[string]int{
			"server.port":    5100,
			"history.window": 20,
		},
	}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.AI.Model != "custom/model" {
		t.Errorf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.History.Window != 20 {
		t.Errorf("History.Window = %d, want 20", cfg.History.Window)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestEnvOverride verifies environment variables beat file values.
func TestEnvOverride(t *testing.T) {
	t.Setenv("INSTASHOP_AI_API_KEY", "test-key")
	t.Setenv("INSTASHOP_AI_MODEL", "env/model")
	t.Setenv("INSTASHOP_SERVER_PORT", "6100")

	b := &mapBackend{
		strings: map[string]string{"ai.model": "file/model"},
		ints:    map[string]int{"server.port": 5100},
	}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AI.Model != "env/model" {
		t.Errorf("AI.Model = %q, want env/model", cfg.AI.Model)
	}
	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100", cfg.Server.Port)
	}
}

// TestSecretsNotReadFromBackend verifies secrets are env-only.
func TestSecretsNotReadFromBackend(t *testing.T) {
	t.Setenv("INSTASHOP_AI_API_KEY", "env-secret")

	b := &mapBackend{
		strings: map[string]string{
			"ai.api_key":       "file-secret",
			"server.api_token": "file-token",
		},
	}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AI.APIKey != "env-secret" {
		t.Errorf("AI.APIKey = %q, want env-secret", cfg.AI.APIKey)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want empty (secrets never come from file)", cfg.Server.APIToken)
	}
}

// TestMissingRequiredField verifies a clear error when the AI key is missing.
func TestMissingRequiredField(t *testing.T) {
	t.Setenv("INSTASHOP_AI_API_KEY", "")

	_, err := loadWith(&mapBackend{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "INSTASHOP_AI_API_KEY") {
		t.Errorf("error = %q, want it to name the env var", err)
	}
}

func TestSetKeyRejectsSecrets(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := SetKey("ai.api_key", "sneaky")
	if err == nil {
		t.Fatal("expected error setting a secret key, got nil")
	}
	if !strings.Contains(err.Error(), "INSTASHOP_AI_API_KEY") {
		t.Errorf("error = %q, want it to point at the env var", err)
	}

	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key, got nil")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.AI.APIKey = "should-not-appear"

	for _, k := range ShowAll(cfg) {
		if k.Key == "ai.api_key" || k.Key == "server.api_token" ||
			k.Key == "instagram.verify_token" || k.Key == "instagram.access_token" {
			t.Errorf("secret key %q exposed by ShowAll", k.Key)
		}
		if k.Value == "should-not-appear" {
			t.Errorf("secret value leaked via key %q", k.Key)
		}
	}
}
