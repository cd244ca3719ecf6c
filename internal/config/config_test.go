package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
logLevel: debug
openaiAPIKey: sk-test
assistantModel: gpt-4o
sessionBackend: memory
runPollInterval: 500ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.AssistantModel != "gpt-4o" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
assistantModel: gpt-4o
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected api key error with remediation hint, got %v", err)
	}
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
assistantModel: gpt-4o
`)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-env" {
		t.Fatalf("api key = %q, want env override", cfg.OpenAIAPIKey)
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
openaiAPIKey: sk-test
assistantModel: gpt-4o
sessionBackend: jwt
jwtSecret: tooshort
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for short jwt secret")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
openaiAPIKey: sk-test
assistantModel: gpt-4o
runTimeout: not-a-duration
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestDurationFallsBack(t *testing.T) {
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Fatalf("empty duration = %v", got)
	}
	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("parsed duration = %v", got)
	}
	if got := Duration("garbage", time.Second); got != time.Second {
		t.Fatalf("invalid duration = %v", got)
	}
}
