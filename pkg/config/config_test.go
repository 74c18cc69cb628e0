package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadModelKeysMergesNumberedAndList(t *testing.T) {
	t.Setenv("LLM_API_KEY_1", "gsk_one")
	t.Setenv("LLM_API_KEY_3", "gsk_three")
	t.Setenv("LLM_API_KEYS", "gsk_four, gsk_one ,,gsk_five")

	keys := LoadModelKeys()
	want := []string{"gsk_one", "gsk_three", "gsk_four", "gsk_five"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: expected %q, got %q", i, want[i], keys[i])
		}
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("LLM_TIMEOUT_SECONDS", "90")
	cfg := LoadAPIConfig()
	if cfg.LLMTimeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.LLMDefaultCooldown != time.Minute {
		t.Fatalf("expected default cooldown 60s, got %s", cfg.LLMDefaultCooldown)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("expected history limit 10, got %d", cfg.HistoryLimit)
	}
	if cfg.ObjectStorageEnabled() {
		t.Fatalf("object storage should be disabled without credentials")
	}
}

func TestGetIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("PAGESMITH_TEST_INT", "nope")
	if got := GetInt("PAGESMITH_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (APIConfig{LogLevel: in}).SlogLevel(); got != want {
			t.Fatalf("%s: expected %v, got %v", in, want, got)
		}
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("PAGESMITH_DOTENV_CHECK=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PAGESMITH_DOTENV_CHECK") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	if got := os.Getenv("PAGESMITH_DOTENV_CHECK"); got != "loaded" {
		t.Fatalf("expected variable from env file, got %q", got)
	}
}
